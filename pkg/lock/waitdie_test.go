package lock_test

import (
	"testing"
	"time"

	"github.com/bobboyms/txcore/pkg/lock"
)

func TestWaitDieLock_ExclusiveIsExclusive(t *testing.T) {
	var l lock.WaitDieLock
	if err := l.AcquireExclusive(10); err != nil {
		t.Fatalf("first exclusive acquire should succeed: %v", err)
	}
	if err := l.AcquireExclusive(100); err == nil {
		t.Fatal("younger exclusive requester must die")
	}
}

func TestWaitDieLock_OlderWaitsYoungerDies(t *testing.T) {
	var l lock.WaitDieLock
	const younger, older = 200, 50
	if err := l.AcquireExclusive(younger); err != nil {
		t.Fatalf("younger acquire: %v", err)
	}

	// Younger-still requester must die immediately.
	if err := l.AcquireExclusive(300); err == nil {
		t.Fatal("requester younger than the owner must die")
	}

	// Older requester blocks until release.
	done := make(chan error, 1)
	go func() { done <- l.AcquireExclusive(older) }()

	select {
	case <-done:
		t.Fatal("older requester should still be waiting")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release(younger)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("older requester should eventually be granted: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("older requester never granted after release")
	}
}

func TestWaitDieLock_SharedReadersCoexist(t *testing.T) {
	var l lock.WaitDieLock
	if err := l.AcquireShared(10); err != nil {
		t.Fatalf("shared acquire: %v", err)
	}
	if err := l.AcquireShared(20); err != nil {
		t.Fatalf("second shared acquire should coexist: %v", err)
	}
}

func TestWaitDieLock_UpgradeSoleOwnerSucceeds(t *testing.T) {
	var l lock.WaitDieLock
	if err := l.AcquireShared(10); err != nil {
		t.Fatalf("shared acquire: %v", err)
	}
	if err := l.AcquireUpgrade(10); err != nil {
		t.Fatalf("upgrade as sole owner should succeed: %v", err)
	}
}

func TestWaitDieLock_UpgradeYoungerDies(t *testing.T) {
	var l lock.WaitDieLock
	const older, younger = 10, 20
	if err := l.AcquireShared(older); err != nil {
		t.Fatalf("older shared: %v", err)
	}
	if err := l.AcquireShared(younger); err != nil {
		t.Fatalf("younger shared: %v", err)
	}
	if err := l.AcquireUpgrade(younger); err == nil {
		t.Fatal("younger owner's upgrade request must die")
	}
}
