package arena_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/arena"
)

func TestAcquire_ReturnsRecordSizedZeroedBuffer(t *testing.T) {
	a := arena.New(64)
	b := a.Acquire()
	if len(b) != 64 {
		t.Fatalf("len(b) = %d, want 64", len(b))
	}
	for _, c := range b {
		if c != 0 {
			t.Fatal("freshly acquired buffer should be zeroed")
		}
	}
}

func TestRelease_RecyclesBuffer(t *testing.T) {
	a := arena.New(32)
	b1 := a.Acquire()
	b1[0] = 0xFF
	a.Release(b1)

	b2 := a.Acquire()
	if &b1[0] != &b2[0] {
		t.Fatal("expected the released buffer to be recycled by the next Acquire")
	}
	if b2[0] != 0 {
		t.Fatal("recycled buffer should be cleared before reuse")
	}
}

func TestAcquire_RotatesSegmentsWhenExhausted(t *testing.T) {
	a := arena.New(1024 * 1024) // bigger than the default segment size
	// Oversized records get segments holding four records each, so the
	// fifth acquisition has to rotate to a fresh segment.
	for i := 0; i < 5; i++ {
		a.Acquire()
	}
	if a.SegmentCount() < 2 {
		t.Fatalf("SegmentCount() = %d, want >= 2 after oversized acquisitions", a.SegmentCount())
	}
}

func TestRelease_IgnoresWrongSizedBuffer(t *testing.T) {
	a := arena.New(16)
	a.Release(make([]byte, 8))
	b := a.Acquire()
	if len(b) != 16 {
		t.Fatalf("len(b) = %d, want 16 (wrong-sized release should be dropped)", len(b))
	}
}
