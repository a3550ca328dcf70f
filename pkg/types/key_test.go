package types_test

import (
	"encoding/binary"
	"testing"

	"github.com/bobboyms/txcore/pkg/types"
)

func TestKey_Compare(t *testing.T) {
	cases := []struct {
		a, b types.Key
		want int
	}{
		{1, 2, -1},
		{2, 1, 1},
		{5, 5, 0},
		{0, 1<<63, -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("Key(%d).Compare(Key(%d)) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestKey_Bytes_MatchesBigEndianOrder(t *testing.T) {
	a, b := types.Key(10), types.Key(300)
	ab, bb := a.Bytes(), b.Bytes()
	if binary.BigEndian.Uint64(ab[:]) != uint64(a) {
		t.Fatalf("round trip broken for a")
	}
	// Byte-wise comparison must agree with numeric comparison.
	less := false
	for i := range ab {
		if ab[i] != bb[i] {
			less = ab[i] < bb[i]
			break
		}
	}
	if !less {
		t.Errorf("byte order of %d vs %d does not agree with numeric order", a, b)
	}
}

func TestKey_String(t *testing.T) {
	if got := types.Key(42).String(); got != "42" {
		t.Errorf("String() = %q, want %q", got, "42")
	}
}

func TestTableID_String(t *testing.T) {
	if got := types.TableID(3).String(); got != "table#3" {
		t.Errorf("String() = %q, want %q", got, "table#3")
	}
}
