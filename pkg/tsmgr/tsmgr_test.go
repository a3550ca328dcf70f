package tsmgr_test

import (
	"testing"
	"time"

	"github.com/bobboyms/txcore/pkg/tsmgr"
	"github.com/bobboyms/txcore/pkg/types"
)

func TestCompose_RoundTrips(t *testing.T) {
	ts := tsmgr.Compose(42, types.WorkerID(7))
	if ts.Counter() != 42 {
		t.Errorf("Counter() = %d, want 42", ts.Counter())
	}
	if ts.Worker() != 7 {
		t.Errorf("Worker() = %d, want 7", ts.Worker())
	}
}

func TestManager_NextIsMonotonicPerWorker(t *testing.T) {
	m := tsmgr.NewManager(time.Hour)
	m.Register(1)
	a := m.Next(1)
	b := m.Next(1)
	if !(b > a) {
		t.Fatalf("timestamps must be increasing per worker: %d then %d", a, b)
	}
}

func TestManager_DifferentWorkersOrderByCounterThenWorkerID(t *testing.T) {
	m := tsmgr.NewManager(time.Hour)
	m.Register(1)
	m.Register(2)
	a := m.Next(1) // counter=1, worker=1
	b := m.Next(2) // counter=1, worker=2
	if !(a < b) {
		t.Fatalf("equal-counter timestamps should order by worker id: a=%d b=%d", a, b)
	}
}

func TestManager_OnAbortBoostsCounter(t *testing.T) {
	m := tsmgr.NewManager(time.Hour)
	m.Register(1)
	before := m.Peek(1)
	m.OnAbort(1)
	after := m.Peek(1)
	if after.Counter() <= before.Counter() {
		t.Fatalf("abort should boost the counter: before=%d after=%d", before.Counter(), after.Counter())
	}
}

func TestManager_WatermarksReflectSlowestWorker(t *testing.T) {
	m := tsmgr.NewManager(time.Millisecond)
	m.Register(1)
	m.Register(2)
	m.Next(1)
	m.Next(1)
	m.Next(1)
	m.Next(2)

	go m.Run()
	defer m.Stop()
	time.Sleep(20 * time.Millisecond)

	min := m.MinWatermark()
	max := m.MaxWatermark()
	if min.Worker() != 2 {
		t.Fatalf("min watermark should belong to the slower worker 2, got worker %d", min.Worker())
	}
	if max.Worker() != 1 {
		t.Fatalf("max watermark should belong to the faster worker 1, got worker %d", max.Worker())
	}
}

func TestManager_UnregisterRecomputesWatermarks(t *testing.T) {
	m := tsmgr.NewManager(time.Hour)
	m.Register(1)
	m.Register(2)
	m.Next(1)
	m.Unregister(2)
	if m.MinWatermark().Worker() != 1 {
		t.Fatalf("after unregistering worker 2, watermark should reflect worker 1 alone")
	}
}
