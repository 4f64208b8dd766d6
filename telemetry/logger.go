package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(component string) *Logger {
	return newLogger(component, os.Stderr)
}

// NewLoggerTo creates a logger writing to w, for tests
func NewLoggerTo(component string, w io.Writer) *Logger {
	return newLogger(component, w)
}

func newLogger(component string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for workflow stages

func (l *Logger) LogCycleStart(ctx context.Context, environment string) {
	l.WithContext(ctx).Info().
		Str("environment", environment).
		Str("operation", "detect").
		Msg("starting detection cycle")
}

func (l *Logger) LogCycleComplete(ctx context.Context, environment string, driftDetected bool, issues int) {
	l.WithContext(ctx).Info().
		Str("environment", environment).
		Bool("drift_detected", driftDetected).
		Int("issues", issues).
		Str("operation", "detect").
		Msg("detection cycle complete")
}

func (l *Logger) LogCollectorFailure(ctx context.Context, collector string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("collector", collector).
		Msg("collector failed, no drift conclusion drawn")
}

func (l *Logger) LogToolInvocation(ctx context.Context, tool string, args []string, dir string) {
	l.WithContext(ctx).Debug().
		Str("tool", tool).
		Strs("args", args).
		Str("dir", dir).
		Msg("invoking external tool")
}

func (l *Logger) LogActionResult(ctx context.Context, action string, subject string, err error) {
	if err != nil {
		l.WithContext(ctx).Error().
			Err(err).
			Str("action", action).
			Str("subject", subject).
			Msg("remediation action failed")
		return
	}
	l.WithContext(ctx).Info().
		Str("action", action).
		Str("subject", subject).
		Msg("remediation action completed")
}
