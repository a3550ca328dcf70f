// Package crashreport implements BUG-status reporting: Report logs the
// error and, once configured, sends it to Sentry. No build of this
// package aborts the process; the BUG status is returned to the caller
// for the outer loop to crash-dump. Reporting is built on
// sentry-go; it is a no-op until Init is called with a DSN, so unit
// tests and benchmark runs that never configure Sentry pay only a
// nil-check.
package crashreport

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/logging"
)

var enabled atomic.Bool

// Init configures Sentry reporting for BUG-class errors. Call it once
// during process bring-up; an empty dsn leaves reporting disabled.
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment}); err != nil {
		return err
	}
	enabled.Store(true)
	return nil
}

// Report records a BUG-class contract violation. If Sentry has not been
// configured, it only logs the error; it never panics here; the caller
// (pkg/txn's retry driver) decides whether to crash the process.
func Report(err *txerrors.BugError) {
	logging.Error().Stack().Err(err).Msg("BUG: contract violation")
	if enabled.Load() {
		sentry.CaptureException(err)
	}
}

// Flush blocks up to the given timeout waiting for buffered events to
// reach Sentry. Call it immediately before the process exits so the
// event isn't lost.
func Flush(timeoutSeconds float64) {
	if enabled.Load() {
		sentry.Flush(time.Duration(timeoutSeconds * float64(time.Second)))
	}
}
