// Package cli implements the vpmlisting command-line interface.
//
// The CLI wraps listing generation with configuration loading, output
// publishing and a small HTTP server. It is built using cobra and logs via
// the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - generate: Build a listing from a source file and publish it
//   - validate: Check a source, package or listing file against its schema
//   - schema: Print the JSON Schema of a document kind
//   - serve: Regenerate a listing periodically and serve it over HTTP
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Every line
// carries the run id of the invocation. Loggers are passed through
// context.Context.
//
// # Example
//
//	import "github.com/matzehuels/vpmlisting/internal/cli"
//
//	func main() {
//	    c := cli.New(os.Stderr, cli.LogInfo)
//	    if err := c.RootCommand().Execute(); err != nil {
//	        os.Exit(1)
//	    }
//	}
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a logger writing to w at level, with
// "HH:MM:SS.ms" timestamps (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
type progress struct {
	logger *log.Logger
	start  time.Time
}

// newProgress creates a progress tracker that captures the current time as start.
func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// elapsed returns the time since start, rounded to the millisecond.
func (p *progress) elapsed() time.Duration {
	return time.Since(p.start).Round(time.Millisecond)
}

// done logs msg with keyvals and the elapsed time.
// Example output: "INFO published listing packages=4 duration=1.234s"
func (p *progress) done(msg string, keyvals ...any) {
	p.logger.Info(msg, append(keyvals, "duration", p.elapsed())...)
}

type ctxKey int

// loggerKey is the context key for storing a logger.
const loggerKey ctxKey = 0

// withLogger returns a new context with the given logger attached.
// The logger can be retrieved later with loggerFromContext.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext retrieves the logger from ctx, or log.Default() when
// none is attached.
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
