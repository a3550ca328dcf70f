package nowait_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/protocol/nowait"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/types"
)

func newEngine(t *testing.T) *nowait.Engine {
	t.Helper()
	idx := index.NewRegistry()
	idx.CreateTable(1, true)
	cat := schema.NewCatalog()
	if err := cat.RegisterTable(1, 64); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}
	eng := nowait.NewEngine(idx, cat)
	eng.RegisterWorker(0)
	eng.RegisterWorker(1)
	return eng
}

func TestInsertThenCommit_MakesKeyVisible(t *testing.T) {
	eng := newEngine(t)
	tx := eng.Begin(0)
	buf, err := tx.Insert(1, types.Key(1))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	copy(buf, []byte("abc"))
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit = (%v,%v)", ok, err)
	}

	tx2 := eng.Begin(0)
	rec, found, err := tx2.Read(1, types.Key(1))
	if err != nil || !found || string(rec[:3]) != "abc" {
		t.Fatalf("Read = (%q,%v,%v), want abc/true/nil", rec, found, err)
	}
	tx2.Commit()
}

func TestConcurrentWriteLock_SecondTxnAbortsImmediately(t *testing.T) {
	eng := newEngine(t)
	setup := eng.Begin(0)
	setup.Insert(1, types.Key(5))
	setup.Commit()

	tx1 := eng.Begin(0)
	if _, err := tx1.Update(1, types.Key(5)); err != nil {
		t.Fatalf("tx1 Update failed: %v", err)
	}

	tx2 := eng.Begin(1)
	if _, err := tx2.Update(1, types.Key(5)); err == nil {
		t.Fatal("expected tx2's write-lock attempt to fail immediately (no-wait)")
	}
	tx2.Abort()
	tx1.Abort()
}

func TestReadThenUpgradeToUpdate_Succeeds(t *testing.T) {
	eng := newEngine(t)
	setup := eng.Begin(0)
	buf, _ := setup.Insert(1, types.Key(7))
	copy(buf, []byte("orig"))
	setup.Commit()

	tx := eng.Begin(0)
	if _, _, err := tx.Read(1, types.Key(7)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	upd, err := tx.Update(1, types.Key(7))
	if err != nil {
		t.Fatalf("upgrade Update failed: %v", err)
	}
	copy(upd, []byte("changed"))
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit failed: %v, %v", ok, err)
	}

	tx2 := eng.Begin(0)
	rec, _, _ := tx2.Read(1, types.Key(7))
	if string(rec[:7]) != "changed" {
		t.Fatalf("rec = %q, want changed prefix", rec)
	}
	tx2.Commit()
}

func TestRemove_ThenReadMisses(t *testing.T) {
	eng := newEngine(t)
	setup := eng.Begin(0)
	setup.Insert(1, types.Key(9))
	setup.Commit()

	tx := eng.Begin(0)
	if _, err := tx.Remove(1, types.Key(9)); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	tx.Commit()

	tx2 := eng.Begin(0)
	_, found, _ := tx2.Read(1, types.Key(9))
	if found {
		t.Fatal("expected key gone after committed remove")
	}
	tx2.Commit()
}

func TestAbort_ReleasesLockForOtherWorker(t *testing.T) {
	eng := newEngine(t)
	setup := eng.Begin(0)
	setup.Insert(1, types.Key(11))
	setup.Commit()

	tx1 := eng.Begin(0)
	tx1.Update(1, types.Key(11))
	tx1.Abort()

	tx2 := eng.Begin(1)
	if _, err := tx2.Update(1, types.Key(11)); err != nil {
		t.Fatalf("expected lock free after tx1.Abort, got: %v", err)
	}
	tx2.Abort()
}
