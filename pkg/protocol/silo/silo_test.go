package silo_test

import (
	"testing"
	"time"

	"github.com/bobboyms/txcore/pkg/epoch"
	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/protocol/silo"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/types"
)

func newEngine(t *testing.T) *silo.Engine {
	t.Helper()
	idx := index.NewRegistry()
	idx.CreateTable(1, true)
	cat := schema.NewCatalog()
	if err := cat.RegisterTable(1, 64); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}
	ep := epoch.NewManager(time.Millisecond, 0)
	eng := silo.NewEngine(idx, cat, ep)
	eng.RegisterWorker(0)
	return eng
}

func TestInsertThenCommit_MakesKeyVisible(t *testing.T) {
	eng := newEngine(t)

	tx := eng.Begin(0)
	buf, err := tx.Insert(1, types.Key(10))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	copy(buf, []byte("hello"))
	ok, err := tx.Commit()
	if err != nil || !ok {
		t.Fatalf("Commit = (%v,%v), want (true,nil)", ok, err)
	}

	tx2 := eng.Begin(0)
	rec, found, err := tx2.Read(1, types.Key(10))
	if err != nil || !found {
		t.Fatalf("Read = (%v,%v,%v), want found", rec, found, err)
	}
	if string(rec[:5]) != "hello" {
		t.Fatalf("rec = %q, want prefix hello", rec)
	}
	tx2.Abort()
}

func TestInsert_DuplicateWithinSameTxnFails(t *testing.T) {
	eng := newEngine(t)
	tx := eng.Begin(0)
	if _, err := tx.Insert(1, types.Key(1)); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}
	if _, err := tx.Insert(1, types.Key(1)); err == nil {
		t.Fatal("expected AlreadyPresentError on duplicate insert")
	}
	tx.Abort()
}

func TestAbort_RemovesUnpublishedInsert(t *testing.T) {
	eng := newEngine(t)
	tx := eng.Begin(0)
	if _, err := tx.Insert(1, types.Key(5)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	tx.Abort()

	tx2 := eng.Begin(0)
	_, found, err := tx2.Read(1, types.Key(5))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if found {
		t.Fatal("expected key removed from index after abort")
	}
	tx2.Abort()
}

func TestUpdate_ReadModifyWriteRoundTrips(t *testing.T) {
	eng := newEngine(t)

	tx := eng.Begin(0)
	buf, _ := tx.Insert(1, types.Key(20))
	copy(buf, []byte("v1"))
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("initial commit failed: %v, %v", ok, err)
	}

	tx2 := eng.Begin(0)
	upd, err := tx2.Update(1, types.Key(20))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	copy(upd, []byte("v2-updated"))
	if ok, err := tx2.Commit(); !ok || err != nil {
		t.Fatalf("update commit failed: %v, %v", ok, err)
	}

	tx3 := eng.Begin(0)
	rec, found, err := tx3.Read(1, types.Key(20))
	if err != nil || !found {
		t.Fatalf("Read failed: %v, found=%v", err, found)
	}
	if string(rec[:10]) != "v2-updated" {
		t.Fatalf("rec = %q, want v2-updated prefix", rec)
	}
	tx3.Abort()
}

func TestRemove_ThenReadMissesAfterCommit(t *testing.T) {
	eng := newEngine(t)

	tx := eng.Begin(0)
	tx.Insert(1, types.Key(30))
	tx.Commit()

	tx2 := eng.Begin(0)
	if _, err := tx2.Remove(1, types.Key(30)); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok, err := tx2.Commit(); !ok || err != nil {
		t.Fatalf("commit failed: %v, %v", ok, err)
	}

	tx3 := eng.Begin(0)
	_, found, err := tx3.Read(1, types.Key(30))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if found {
		t.Fatal("expected key to be gone after committed remove")
	}
	tx3.Abort()
}

func TestCommit_ConflictWhenConcurrentWriterPublishedFirst(t *testing.T) {
	eng := newEngine(t)
	tx := eng.Begin(0)
	tx.Insert(1, types.Key(40))
	tx.Commit()

	// Reader observes the committed tidword.
	reader := eng.Begin(0)
	if _, _, err := reader.Read(1, types.Key(40)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	// A concurrent writer updates and commits the same key first.
	writer := eng.Begin(0)
	buf, err := writer.Update(1, types.Key(40))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	copy(buf, []byte("raced"))
	if ok, err := writer.Commit(); !ok || err != nil {
		t.Fatalf("writer commit failed: %v, %v", ok, err)
	}

	// The reader's captured tidword is now stale: commit must fail.
	ok, err := reader.Commit()
	if ok || err == nil {
		t.Fatal("expected reader's commit to fail validation against the stale read-set entry")
	}
	reader.Abort()
}

func TestScan_VisitsInsertedKeysInRange(t *testing.T) {
	eng := newEngine(t)
	tx := eng.Begin(0)
	for _, k := range []int{1, 2, 3, 4, 5} {
		buf, _ := tx.Insert(1, types.Key(k))
		copy(buf, []byte{byte(k)})
	}
	tx.Commit()

	tx2 := eng.Begin(0)
	out, err := tx2.ReadScan(1, types.Key(2), types.Key(5), 0, false)
	if err != nil {
		t.Fatalf("ReadScan failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3 (keys 2,3,4)", len(out))
	}
	tx2.Abort()
}
