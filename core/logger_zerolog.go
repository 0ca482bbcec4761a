package core

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger and ComponentAwareLogger on top of
// github.com/rs/zerolog, replacing the ambient SimpleLogger (pkg/logger)
// with the structured, leveled logging library used throughout the
// reference corpus. Mirrors the original Python implementation's
// `logging.getLogger(__name__)`-per-module pattern via WithComponent.
type ZerologLogger struct {
	logger    zerolog.Logger
	component string
}

// NewZerologLogger builds a logger writing structured JSON to os.Stdout,
// at the given minimum level ("debug", "info", "warn",
// "error"; defaults to "info" on an unrecognized value).
func NewZerologLogger(level string) *ZerologLogger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	base := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{logger: base}
}

func (z *ZerologLogger) withFields(ev *zerolog.Event, fields map[string]interface{}) *zerolog.Event {
	if z.component != "" {
		ev = ev.Str("component", z.component)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (z *ZerologLogger) Debug(msg string, fields map[string]interface{}) {
	z.withFields(z.logger.Debug(), fields).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, fields map[string]interface{}) {
	z.withFields(z.logger.Info(), fields).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, fields map[string]interface{}) {
	z.withFields(z.logger.Warn(), fields).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, fields map[string]interface{}) {
	z.withFields(z.logger.Error(), fields).Msg(msg)
}

// traceFieldFromContext pulls a trace/correlation id out of ctx if the
// caller stashed one under the core trace-id context key; absent that, the
// context-aware methods behave identically to their non-context siblings.
func traceFieldFromContext(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if ctx == nil {
		return fields
	}
	if traceID, ok := ctx.Value(traceIDContextKey{}).(string); ok && traceID != "" {
		if fields == nil {
			fields = make(map[string]interface{}, 1)
		}
		fields["trace_id"] = traceID
	}
	return fields
}

type traceIDContextKey struct{}

// WithTraceID attaches a trace id to ctx so *WithContext log calls
// downstream automatically carry it without every caller threading it
// through fields by hand.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

func (z *ZerologLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.Debug(msg, traceFieldFromContext(ctx, fields))
}

func (z *ZerologLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.Info(msg, traceFieldFromContext(ctx, fields))
}

func (z *ZerologLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.Warn(msg, traceFieldFromContext(ctx, fields))
}

func (z *ZerologLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.Error(msg, traceFieldFromContext(ctx, fields))
}

// WithComponent returns a logger that stamps every entry with component,
// matching the ComponentAwareLogger contract documented in interfaces.go.
func (z *ZerologLogger) WithComponent(component string) Logger {
	return &ZerologLogger{logger: z.logger, component: component}
}

var _ ComponentAwareLogger = (*ZerologLogger)(nil)
