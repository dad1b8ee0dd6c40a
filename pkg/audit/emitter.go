package audit

import (
	"context"
	"log/slog"
	"sort"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// SlogEmitter writes events as structured log records.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter on logger. If logger is nil,
// slog.Default() is used.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs ev at a level derived from its severity.
func (e *SlogEmitter) Emit(ev Event) error {
	attrs := make([]slog.Attr, 0, 4+len(ev.Details))
	attrs = append(attrs, slog.String("audit", string(ev.Type)))
	if ev.ActorID != "" {
		attrs = append(attrs, slog.String("user", ev.ActorID))
	}
	if ev.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ev.RunID))
	}
	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, ev.Details[k]))
	}
	msg := ev.Message
	if msg == "" {
		msg = string(ev.Type)
	}
	e.logger.LogAttrs(context.Background(), levelFor(ev.Severity), msg, attrs...)
	return nil
}

func levelFor(s Severity) slog.Level {
	switch {
	case s <= SeverityError:
		return slog.LevelError
	case s == SeverityWarning:
		return slog.LevelWarn
	case s == SeverityDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// MultiEmitter fans events out to several backends.
// Backend errors are logged but do not propagate; audit failures must not
// block the pipeline.
type MultiEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewMultiEmitter creates an emitter that forwards events to the given backends.
// If logger is nil, slog.Default() is used for error reporting.
func NewMultiEmitter(logger *slog.Logger, backends ...EventEmitter) *MultiEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiEmitter{
		backends: backends,
		logger:   logger,
	}
}

// Emit writes ev to every backend. Always returns nil.
func (m *MultiEmitter) Emit(ev Event) error {
	for _, b := range m.backends {
		if b == nil {
			continue
		}
		if err := b.Emit(ev); err != nil {
			m.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
		}
	}
	return nil
}
