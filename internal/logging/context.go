package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	automationIDKey
	stepPathKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithAutomationID returns a context with the automation ID set.
func WithAutomationID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, automationIDKey, id)
}

// WithStepPath returns a context with the dotted step path set.
func WithStepPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, stepPathKey, path)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// AutomationID extracts the automation ID from the context, or 0 if absent.
func AutomationID(ctx context.Context) int {
	v, _ := ctx.Value(automationIDKey).(int)
	return v
}

// StepPath extracts the step path from the context, or "" if absent.
func StepPath(ctx context.Context) string {
	v, _ := ctx.Value(stepPathKey).(string)
	return v
}

// WithRun sets the run and automation IDs at once.
func WithRun(ctx context.Context, runID string, automationID int) context.Context {
	return WithAutomationID(WithRunID(ctx, runID), automationID)
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := RunID(ctx); v != "" {
		attrs = append(attrs, slog.String("run_id", v))
	}
	if v := AutomationID(ctx); v != 0 {
		attrs = append(attrs, slog.Int("automation_id", v))
	}
	if v := StepPath(ctx); v != "" {
		attrs = append(attrs, slog.String("step_path", v))
	}
	return attrs
}

// LogWith returns a logger enriched with the correlation IDs of ctx.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and injects the correlation IDs
// of the record's context. Use with slog.New(NewCorrelationHandler(inner))
// and log through the *Context methods.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel parses debug, info, warn or error (case-insensitive), or a
// numeric slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return slog.Level(n), nil
}

// NewLogger builds the process logger: JSON (or text) records on w with
// correlation IDs injected.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
