package lock_test

import (
	"testing"

	"github.com/bobboyms/txcore/pkg/lock"
)

func TestRWLock_SharedIsConcurrent(t *testing.T) {
	var l lock.RWLock
	if !l.TryLockShared() {
		t.Fatal("first shared lock should succeed")
	}
	if !l.TryLockShared() {
		t.Fatal("second shared lock should succeed")
	}
	if l.Readers() != 2 {
		t.Fatalf("Readers() = %d, want 2", l.Readers())
	}
}

func TestRWLock_ExclusiveExcludesShared(t *testing.T) {
	var l lock.RWLock
	if !l.TryLock() {
		t.Fatal("exclusive lock should succeed on free lock")
	}
	if l.TryLockShared() {
		t.Fatal("shared lock should fail while exclusive is held")
	}
	l.Unlock()
	if !l.TryLockShared() {
		t.Fatal("shared lock should succeed after unlock")
	}
}

func TestRWLock_Upgrade(t *testing.T) {
	var l lock.RWLock
	l.LockShared()
	if !l.TryLockUpgrade() {
		t.Fatal("upgrade from sole shared holder should succeed")
	}
	if l.Readers() != -1 {
		t.Fatalf("Readers() = %d after upgrade, want -1", l.Readers())
	}
	l.Unlock()
}

func TestRWLock_UpgradeFailsWithOtherReaders(t *testing.T) {
	var l lock.RWLock
	l.LockShared()
	l.LockShared()
	if l.TryLockUpgrade() {
		t.Fatal("upgrade must fail when another reader is present")
	}
}
