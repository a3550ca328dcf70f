package valuecell_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/valuecell"
)

func TestTidWord_PackUnpack(t *testing.T) {
	w := valuecell.PackTidWord(true, true, false, 12345, 99)
	if !w.Locked() {
		t.Error("Locked() should be true")
	}
	if !w.Latest() {
		t.Error("Latest() should be true")
	}
	if w.Absent() {
		t.Error("Absent() should be false")
	}
	if w.Tid() != 12345 {
		t.Errorf("Tid() = %d, want 12345", w.Tid())
	}
	if w.Epoch() != 99 {
		t.Errorf("Epoch() = %d, want 99", w.Epoch())
	}
}

func TestTidWord_Readable(t *testing.T) {
	readable := valuecell.PackTidWord(false, true, false, 1, 1)
	if !readable.Readable() {
		t.Error("latest && !absent should be readable")
	}
	absent := valuecell.PackTidWord(false, false, true, 1, 1)
	if absent.Readable() {
		t.Error("absent cell should not be readable")
	}
}

func TestTidWord_WithLock(t *testing.T) {
	w := valuecell.PackTidWord(false, true, false, 5, 5)
	locked := w.WithLock(true)
	if !locked.Locked() {
		t.Error("WithLock(true) should set the lock bit")
	}
	if locked.Tid() != 5 || locked.Epoch() != 5 {
		t.Error("WithLock must preserve other fields")
	}
}

func TestSiloCell_CAS(t *testing.T) {
	initial := valuecell.PackTidWord(false, true, false, 1, 1)
	c := valuecell.NewSiloCell(initial, nil)
	if !c.Detached() {
		t.Fatal("nil record means detached")
	}
	locked := initial.WithLock(true)
	if !c.CAS(initial, locked) {
		t.Fatal("CAS should succeed against the current value")
	}
	if c.CAS(initial, locked) {
		t.Fatal("CAS should fail once the word has moved on")
	}
	rec := valuecell.Record("hello")
	c.SetRecord(&rec)
	if c.Detached() {
		t.Fatal("cell should no longer be detached once a record is set")
	}
}

func TestMVTOCell_VisibleVersion(t *testing.T) {
	// Chain is ordered by descending WriteTS from head to tail: head is
	// the newest version (WriteTS=20), tail is the oldest (WriteTS=10).
	tail := &valuecell.Version{WriteTS: 10, ReadTS: 10}
	head := &valuecell.Version{WriteTS: 20, ReadTS: 20, Prev: tail}
	cell := valuecell.NewMVTOCell(head)

	if got := cell.VisibleVersion(15); got != tail {
		t.Fatalf("VisibleVersion(15) should return the newest version with WriteTS<=15, which is tail (10)")
	}
	if got := cell.VisibleVersion(20); got != head {
		t.Fatalf("VisibleVersion(20) should return head")
	}
	if got := cell.VisibleVersion(5); got != nil {
		t.Fatalf("VisibleVersion(5) should find nothing visible, got %v", got)
	}
}

func TestMVTOCell_Trim(t *testing.T) {
	v3 := &valuecell.Version{WriteTS: 5}
	v2 := &valuecell.Version{WriteTS: 15, Prev: v3}
	v1 := &valuecell.Version{WriteTS: 25, Prev: v2}
	cell := valuecell.NewMVTOCell(v1)

	cell.Trim(20) // floor 20: v1(25) kept, v2(15) is the new tail, v3 dropped
	if cell.Head != v1 {
		t.Fatal("trim must not move the head")
	}
	if v1.Prev != v2 {
		t.Fatal("v2 should remain as the newest version below the floor")
	}
	if v2.Prev != nil {
		t.Fatal("v3 should have been trimmed away")
	}
}
