// Package txn implements the transaction facade: a thin,
// protocol-agnostic adapter workload code drives uniformly, plus a
// retry driver that commits, aborts, or retries a transaction body
// based on how it finishes. It depends on the structural shape
// pkg/protocol/{silo,nowait,waitdie,mvto}'s *Txn types already share
// — one interface covering every concurrency-control protocol — rather
// than on any one protocol concretely.
package txn

import (
	"time"

	"github.com/bobboyms/txcore/pkg/crashreport"
	"github.com/bobboyms/txcore/pkg/epoch"
	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/protocol/mvto"
	"github.com/bobboyms/txcore/pkg/protocol/nowait"
	"github.com/bobboyms/txcore/pkg/protocol/silo"
	"github.com/bobboyms/txcore/pkg/protocol/waitdie"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/stats"
	"github.com/bobboyms/txcore/pkg/tsmgr"
	"github.com/bobboyms/txcore/pkg/types"
	"github.com/bobboyms/txcore/pkg/valuecell"
)

// Protocol selects which of the four concurrency-control engines a
// Facade drives.
type Protocol int

const (
	Silo Protocol = iota
	MVTO
	NoWait
	WaitDie
)

func (p Protocol) String() string {
	switch p {
	case Silo:
		return "silo"
	case MVTO:
		return "mvto"
	case NoWait:
		return "nowait"
	case WaitDie:
		return "waitdie"
	default:
		return "unknown"
	}
}

// Handle is the one public surface every protocol's transaction type
// exposes. Every one of pkg/protocol/{silo,nowait,waitdie,mvto}.Txn
// already has exactly this method set, so each satisfies Handle with
// no adapter needed.
type Handle interface {
	Read(table types.TableID, key types.Key) (valuecell.Record, bool, error)
	Insert(table types.TableID, key types.Key) (valuecell.Record, error)
	Update(table types.TableID, key types.Key) (valuecell.Record, error)
	Upsert(table types.TableID, key types.Key) (valuecell.Record, error)
	Remove(table types.TableID, key types.Key) (valuecell.Record, error)
	ReadScan(table types.TableID, lkey, rkey types.Key, count int, reverse bool) (map[types.Key]valuecell.Record, error)
	UpdateScan(table types.TableID, lkey, rkey types.Key, count int, reverse bool) (map[types.Key]valuecell.Record, error)
	Commit() (bool, error)
	Abort()
}

// engine is the facade's view of a protocol engine: register a
// worker, begin a handle. Begin's return type is the only place each
// protocol's concrete *Engine needs an adapter shim (below), since Go
// requires exact method signatures for interface satisfaction and the
// concrete engines return their own *Txn type, not Handle.
type engine interface {
	RegisterWorker(worker types.WorkerID)
	Begin(worker types.WorkerID) Handle
}

type siloEngine struct{ *silo.Engine }

func (e siloEngine) Begin(worker types.WorkerID) Handle { return e.Engine.Begin(worker) }

type mvtoEngine struct{ *mvto.Engine }

func (e mvtoEngine) Begin(worker types.WorkerID) Handle { return e.Engine.Begin(worker) }

type nowaitEngine struct{ *nowait.Engine }

func (e nowaitEngine) Begin(worker types.WorkerID) Handle { return e.Engine.Begin(worker) }

type waitdieEngine struct{ *waitdie.Engine }

func (e waitdieEngine) Begin(worker types.WorkerID) Handle { return e.Engine.Begin(worker) }

// Deps bundles the collaborators a Facade wires its chosen protocol
// engine to. Epoch is required (and only used) for Silo; Tsmgr is
// required (and only used) for MVTO/WaitDie. Stats is optional: a nil
// Collector means outcomes are not recorded.
type Deps struct {
	Index  *index.Registry
	Schema *schema.Catalog
	Epoch  *epoch.Manager
	Tsmgr  *tsmgr.Manager
	Stats  *stats.Collector
}

// Facade is the workload-facing entry point: one per benchmark run,
// shared by every worker goroutine.
type Facade struct {
	protocol Protocol
	eng      engine
	stats    *stats.Collector
}

// NewFacade builds a Facade driving the given protocol. It panics if a
// required collaborator for that protocol is missing from deps — this
// is a wiring-time contract violation, not a runtime condition a
// workload can recover from.
func NewFacade(protocol Protocol, deps Deps) *Facade {
	f := &Facade{protocol: protocol, stats: deps.Stats}
	switch protocol {
	case Silo:
		if deps.Epoch == nil {
			panic("txn: Silo protocol requires a non-nil Epoch manager")
		}
		f.eng = siloEngine{silo.NewEngine(deps.Index, deps.Schema, deps.Epoch)}
	case MVTO:
		if deps.Tsmgr == nil {
			panic("txn: MVTO protocol requires a non-nil Tsmgr manager")
		}
		f.eng = mvtoEngine{mvto.NewEngine(deps.Index, deps.Schema, deps.Tsmgr)}
	case NoWait:
		f.eng = nowaitEngine{nowait.NewEngine(deps.Index, deps.Schema)}
	case WaitDie:
		if deps.Tsmgr == nil {
			panic("txn: WaitDie protocol requires a non-nil Tsmgr manager")
		}
		f.eng = waitdieEngine{waitdie.NewEngine(deps.Index, deps.Schema, deps.Tsmgr)}
	default:
		panic("txn: unknown protocol")
	}
	return f
}

// Protocol reports which concurrency-control protocol this facade drives.
func (f *Facade) Protocol() Protocol { return f.protocol }

// RegisterWorker must be called once for every worker before its
// first Begin/Run call.
func (f *Facade) RegisterWorker(worker types.WorkerID) { f.eng.RegisterWorker(worker) }

// Begin starts one transaction attempt directly, bypassing the retry
// driver. Most workload code should prefer Run.
func (f *Facade) Begin(worker types.WorkerID) Handle { return f.eng.Begin(worker) }

// Body is a transaction's business logic: it receives a fresh Handle
// for each attempt and returns nil on success, a ConflictError or
// PhantomError to signal a system abort (retried), a BugError for a
// bug (not retried, reported and propagated), or any other error to
// roll back without retry (StatusOf classifies it as a user abort).
type Body func(tx Handle) error

// Run drives one transaction to completion with automatic retry: it
// repeatedly begins a transaction and runs body against it. On success
// it commits and returns (true, nil). On a user abort it aborts and
// returns (false, nil): the caller must not retry. On a system abort
// (a concurrency-control conflict) it aborts and loops. Any other
// status is a bug: it is reported via pkg/crashreport and returned to
// the caller, who decides whether to crash-dump.
func (f *Facade) Run(worker types.WorkerID, body Body) (bool, error) {
	for {
		tx := f.eng.Begin(worker)
		start := time.Now()

		bodyErr := body(tx)
		status := txerrors.StatusOf(bodyErr)

		if status == txerrors.SUCCESS {
			ok, commitErr := tx.Commit()
			if commitErr != nil {
				status = txerrors.StatusOf(commitErr)
				bodyErr = commitErr
			} else if !ok {
				// Contract violation: Commit returned (false, nil), which
				// none of the four protocol engines ever does.
				status = txerrors.Bug
				bodyErr = txerrors.NewBug("commit returned (false, nil) for worker %d", worker)
			}
		}

		switch status {
		case txerrors.SUCCESS:
			f.recordOutcome(worker, stats.Commit, "", time.Since(start))
			return true, nil
		case txerrors.UserAbort:
			tx.Abort()
			f.recordOutcome(worker, stats.UserAbort, reasonOf(bodyErr), time.Since(start))
			return false, nil
		case txerrors.SystemAbort:
			tx.Abort()
			f.recordOutcome(worker, stats.SystemAbort, reasonOf(bodyErr), time.Since(start))
			continue
		default: // Bug
			tx.Abort()
			if bugErr, ok := asBug(bodyErr); ok {
				crashreport.Report(bugErr)
			}
			return false, bodyErr
		}
	}
}

func (f *Facade) recordOutcome(worker types.WorkerID, outcome stats.Outcome, reason string, elapsed time.Duration) {
	if f.stats == nil {
		return
	}
	seconds := elapsed.Seconds()
	switch outcome {
	case stats.Commit:
		f.stats.RecordCommit(worker, seconds)
	case stats.UserAbort:
		f.stats.RecordUserAbort(worker, reason, seconds)
	case stats.SystemAbort:
		f.stats.RecordSystemAbort(worker, reason, seconds)
	}
}

// reasonOf classifies an abort's error into a short label for the
// stats collector's abort-reason histogram.
func reasonOf(err error) string {
	switch err.(type) {
	case nil:
		return "none"
	case *txerrors.AlreadyPresentError:
		return "already_present"
	case *txerrors.NotPresentError:
		return "not_present"
	case *txerrors.ConflictError:
		return "conflict"
	case *txerrors.PhantomError:
		return "phantom"
	default:
		return "user"
	}
}

func asBug(err error) (*txerrors.BugError, bool) {
	var bugErr *txerrors.BugError
	if txerrors.As(err, &bugErr) {
		return bugErr, true
	}
	return nil, false
}
