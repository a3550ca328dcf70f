package stats_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bobboyms/txcore/pkg/stats"
	"github.com/bobboyms/txcore/pkg/types"
)

func TestRecordCommit_IncrementsOutcomeCounter(t *testing.T) {
	c := stats.NewCollector()
	c.RecordCommit(types.WorkerID(1), 0.001)
	c.RecordCommit(types.WorkerID(1), 0.002)

	got := testutil.CollectAndCount(c.Registry(), "txcore_transactions_total")
	if got == 0 {
		t.Fatal("expected the transactions_total counter vec to be registered and populated")
	}
}

func TestRecordSystemAbort_IncrementsAbortReason(t *testing.T) {
	c := stats.NewCollector()
	c.RecordSystemAbort(types.WorkerID(2), "silo_validation", 0.0005)
	c.RecordSystemAbort(types.WorkerID(2), "silo_validation", 0.0006)
	c.RecordUserAbort(types.WorkerID(2), "not_present", 0.0001)

	got := testutil.CollectAndCount(c.Registry(), "txcore_abort_reasons_total")
	if got != 2 {
		t.Fatalf("abort_reasons_total series count = %d, want 2 (silo_validation, not_present)", got)
	}
}

func TestNewCollector_RegistersDistinctWorkerLabels(t *testing.T) {
	c := stats.NewCollector()
	c.RecordCommit(types.WorkerID(1), 0.001)
	c.RecordCommit(types.WorkerID(2), 0.001)

	got := testutil.CollectAndCount(c.Registry(), "txcore_transactions_total")
	if got != 2 {
		t.Fatalf("transactions_total series count = %d, want 2 (one per worker)", got)
	}
}
