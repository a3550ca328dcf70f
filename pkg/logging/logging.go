// Package logging provides the engine's one structured logger: a thin
// wrapper over zerolog. Epoch advances, GC sweeps, and system aborts
// get a structured event instead of silence, without adding overhead
// on the hot transaction path (every call site here is on a
// background-thread or abort path, never inside a validated commit).
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// SetOutput redirects all subsequent log output; benchmark drivers use
// this to route logs to a file or to io.Discard during throughput runs.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(w)
}

// SetLevel adjusts the minimum emitted level ("debug", "info", "warn",
// "error", "disabled"). Unknown names leave the level unchanged.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(lvl)
}

func logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a low-frequency diagnostic event (epoch advance, GC sweep
// stamp, timestamp watermark refresh).
func Debug() *zerolog.Event { l := logger(); return l.Debug() }

// Info logs a noteworthy lifecycle event (manager start/stop).
func Info() *zerolog.Event { l := logger(); return l.Info() }

// Warn logs a system abort or retried conflict.
func Warn() *zerolog.Event { l := logger(); return l.Warn() }

// Error logs a BUG-class contract violation before crashreport takes over.
func Error() *zerolog.Event { l := logger(); return l.Error() }
