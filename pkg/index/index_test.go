package index_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/types"
)

func TestFind_MissAndHit(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)

	if _, ok, _ := r.Find(1, types.Key(5)); ok {
		t.Fatal("expected miss before insert")
	}
	if err := r.Insert(1, types.Key(5), "cell-5"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	val, ok, err := r.Find(1, types.Key(5))
	if err != nil || !ok || val != "cell-5" {
		t.Fatalf("Find = (%v,%v,%v), want (cell-5,true,nil)", val, ok, err)
	}
}

func TestFindObserving_RecordsLeafOnMiss(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)
	r.Insert(1, types.Key(10), "a")
	r.Insert(1, types.Key(20), "b")

	_, found, obs, err := r.FindObserving(1, types.Key(15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("key 15 should not be found")
	}
	if obs.Leaf == nil {
		t.Fatal("expected a leaf observation even on miss")
	}
}

func TestInsert_DuplicateOnUniqueTable(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)
	if err := r.Insert(1, types.Key(1), "x"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := r.Insert(1, types.Key(1), "y"); err == nil {
		t.Fatal("expected error on duplicate key")
	}
}

func TestInsertObserving_StampChangesAcrossSplit(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)

	var last index.Observation
	for i := 0; i < 200; i++ {
		obs, err := r.InsertObserving(1, types.Key(i), i)
		if err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		last = obs
	}
	if index.LeafVersion(last.Leaf) == 0 {
		t.Fatal("expected a nonzero leaf version after structural edits")
	}
}

func TestRemove_NotPresent(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, false)
	if err := r.Remove(1, types.Key(1)); err == nil {
		t.Fatal("expected NotPresentError removing an absent key")
	}
}

func TestGetNextKV_StrictSuccessor(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)
	for _, k := range []int{10, 20, 30} {
		r.Insert(1, types.Key(k), k)
	}

	nextKey, nextVal, ok, err := r.GetNextKV(1, types.Key(10))
	if err != nil || !ok {
		t.Fatalf("GetNextKV(10) failed: ok=%v err=%v", ok, err)
	}
	if nextKey.Compare(types.Key(20)) != 0 || nextVal.(int) != 20 {
		t.Fatalf("GetNextKV(10) = (%v,%v), want (20,20)", nextKey, nextVal)
	}

	_, _, ok, _ = r.GetNextKV(1, types.Key(30))
	if ok {
		t.Fatal("expected no successor past the last key")
	}
}

func TestScan_BoundedRangeInOrder(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)
	for i := 0; i < 50; i++ {
		r.Insert(1, types.Key(i), i)
	}

	var got []int
	leafCount := 0
	err := r.Scan(1, types.Key(10), types.Key(20), 0,
		func(obs index.Observation) { leafCount++ },
		func(key types.Comparable, val interface{}) bool {
			got = append(got, val.(int))
			return true
		})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("scanned %d keys, want 10 (range [10,20))", len(got))
	}
	for i, v := range got {
		if v != 10+i {
			t.Fatalf("got[%d] = %d, want %d", i, v, 10+i)
		}
	}
	if leafCount == 0 {
		t.Fatal("expected at least one per-leaf callback invocation")
	}
}

func TestScan_StopsEarlyOnCount(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)
	for i := 0; i < 50; i++ {
		r.Insert(1, types.Key(i), i)
	}

	var got []int
	r.Scan(1, types.Key(0), nil, 5, nil, func(key types.Comparable, val interface{}) bool {
		got = append(got, val.(int))
		return true
	})
	if len(got) != 5 {
		t.Fatalf("got %d keys, want 5 (count-bounded)", len(got))
	}
}

func TestRScan_DescendingOrder(t *testing.T) {
	r := index.NewRegistry()
	r.CreateTable(1, true)
	for i := 0; i < 30; i++ {
		r.Insert(1, types.Key(i), i)
	}

	var got []int
	err := r.RScan(1, types.Key(10), types.Key(20), 0, nil, func(key types.Comparable, val interface{}) bool {
		got = append(got, val.(int))
		return true
	})
	if err != nil {
		t.Fatalf("rscan failed: %v", err)
	}
	if len(got) != 11 {
		t.Fatalf("rscanned %d keys, want 11 (range [10,20])", len(got))
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i] <= got[i+1] {
			t.Fatalf("rscan not descending at %d: %v", i, got)
		}
	}
}
