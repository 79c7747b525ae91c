package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Clock supplies timestamps for operation records and checkpoint runs.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the function's current time.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Logger is the minimal structured logging surface used by the service.
// Arguments follow the slog convention of alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewSlogLogger wraps an slog.Logger for service injection. A nil argument
// uses the process default logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// MetricsRecorder receives one observation per completed service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span started by a Tracer.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// OperationStatus classifies the outcome of a recorded operation.
type OperationStatus string

const (
	OperationStatusSuccess OperationStatus = "success"
	OperationStatusError   OperationStatus = "error"
)

// OperationEntry describes one completed service operation for external
// operational logs. It is bookkeeping about the call, distinct from the
// hash-chained audit records the store seals inside the transaction.
type OperationEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Status    OperationStatus
	Duration  time.Duration
	Timestamp time.Time
}

// OperationRecorder receives operation entries as they complete.
type OperationRecorder interface {
	Record(ctx context.Context, entry OperationEntry)
}

type noopOperationRecorder struct{}

func (noopOperationRecorder) Record(context.Context, OperationEntry) {}

// IntegrityReport summarizes one verification pass over the audit chains or
// a checkpoint comparison.
type IntegrityReport struct {
	CheckedAt  time.Time
	Day        string
	Chains     int
	Violations []domain.ChainIntegrityViolation
}

// OK reports whether the pass found no violations.
func (r IntegrityReport) OK() bool { return len(r.Violations) == 0 }

// IntegrityReporter receives verification outcomes. Implementations surface
// the evidence to operators; nothing in the pipeline repairs a broken chain.
type IntegrityReporter interface {
	Report(ctx context.Context, report IntegrityReport)
}

type noopIntegrityReporter struct{}

func (noopIntegrityReporter) Report(context.Context, IntegrityReport) {}

// ChangeNotifier receives the committed changes of each successful mutation
// so the realtime layer can fan them out to subscribers.
type ChangeNotifier interface {
	PublishChanges(ctx context.Context, changes []domain.Change)
}

type noopChangeNotifier struct{}

func (noopChangeNotifier) PublishChanges(context.Context, []domain.Change) {}
