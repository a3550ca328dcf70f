package rwset_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/btree"
	"github.com/bobboyms/txcore/pkg/rwset"
	"github.com/bobboyms/txcore/pkg/types"
)

func TestPut_Get_RoundTrips(t *testing.T) {
	s := rwset.New()
	e := &rwset.Entry{Type: rwset.READ}
	s.Put(1, types.Key(10), e)

	got, ok := s.Get(1, types.Key(10))
	if !ok || got != e {
		t.Fatalf("Get = (%v,%v), want (%v,true)", got, ok, e)
	}
}

func TestWriteKeysAscending_OnlyWriteTyped(t *testing.T) {
	s := rwset.New()
	s.Put(1, types.Key(30), &rwset.Entry{Type: rwset.UPDATE})
	s.Put(1, types.Key(10), &rwset.Entry{Type: rwset.INSERT})
	s.Put(1, types.Key(20), &rwset.Entry{Type: rwset.DELETE})
	s.Put(1, types.Key(5), &rwset.Entry{Type: rwset.READ}) // not a write

	got := s.WriteKeysAscending(1)
	want := []types.Key{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d (got=%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriteKeysAscending_DuplicatePutDoesNotDuplicateOrder(t *testing.T) {
	s := rwset.New()
	s.Put(1, types.Key(10), &rwset.Entry{Type: rwset.INSERT})
	s.Put(1, types.Key(10), &rwset.Entry{Type: rwset.UPDATE})

	got := s.WriteKeysAscending(1)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestReset_ClearsTablesAndObservations(t *testing.T) {
	s := rwset.New()
	s.Put(1, types.Key(10), &rwset.Entry{Type: rwset.INSERT})
	leaf := btree.NewNode(4, true)
	s.RecordNodeObservation(leaf, 1)

	s.Reset()

	if _, ok := s.Get(1, types.Key(10)); ok {
		t.Fatal("expected Get to miss after Reset")
	}
	if len(s.NodeObservations()) != 0 {
		t.Fatal("expected NodeObservations to be empty after Reset")
	}
}

func TestRecordNodeObservation_KeepsFirstStampOnly(t *testing.T) {
	s := rwset.New()
	leaf := btree.NewNode(4, true)
	s.RecordNodeObservation(leaf, 5)
	s.RecordNodeObservation(leaf, 99)

	obs := s.NodeObservations()
	if obs[leaf] != 5 {
		t.Fatalf("NodeObservations()[leaf] = %d, want 5 (first observation retained)", obs[leaf])
	}
}

func TestTables_ListsTouchedTables(t *testing.T) {
	s := rwset.New()
	s.Put(1, types.Key(1), &rwset.Entry{Type: rwset.READ})
	s.Put(2, types.Key(2), &rwset.Entry{Type: rwset.READ})

	got := s.Tables()
	if len(got) != 2 {
		t.Fatalf("len(Tables()) = %d, want 2", len(got))
	}
}
