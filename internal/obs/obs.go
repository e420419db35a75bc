// Package obs carries the correlation-scoped logging context used by every
// public operation in this module. A correlation id is a UUID minted at
// the start of a user-initiated action and threaded through every log
// record, event, and store operation that action triggers.
package obs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chuncker/internal/logging"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	loggerKey
)

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the correlation id carried by ctx, or "" if none
// was attached.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Logger returns the logger carried by ctx, or a discard logger if none
// was attached.
func Logger(ctx context.Context) *slog.Logger {
	l, _ := ctx.Value(loggerKey).(*slog.Logger)
	return logging.Default(l)
}

// BeginScope mints a new correlation id, attaches both it and a
// correlation-scoped logger derived from base to ctx, and returns the
// scoped context along with the minted id. Callers at the top of every
// public operation should call BeginScope once and thread the returned
// context through every suspending call that operation makes.
func BeginScope(ctx context.Context, base *slog.Logger) (context.Context, string) {
	id := uuid.NewString()
	scoped := logging.Default(base).With("correlationId", id)
	ctx = WithCorrelationID(ctx, id)
	ctx = WithLogger(ctx, scoped)
	return ctx, id
}

// Timer reports the lifecycle of one operation: start, end, elapsed, and
// outcome. Construct with NewTimer at the start of an operation and call
// Stop (directly or via defer) at every exit path.
type Timer struct {
	component string
	operation string
	start     time.Time
	failed    bool
	logger    *slog.Logger
}

// NewTimer starts a timer for component/operation, logging at debug level
// using the logger carried by ctx.
func NewTimer(ctx context.Context, component, operation string) *Timer {
	return &Timer{
		component: component,
		operation: operation,
		start:     time.Now(),
		logger:    Logger(ctx),
	}
}

// Fail marks the operation as failed. Call before Stop once an
// unrecoverable error is known.
func (t *Timer) Fail() {
	t.failed = true
}

// Stop records the elapsed time and outcome.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	outcome := "ok"
	if t.failed {
		outcome = "fail"
	}
	t.logger.Debug("operation complete",
		"component", t.component,
		"operation", t.operation,
		"elapsedMs", elapsed.Milliseconds(),
		"outcome", outcome,
	)
}
