package events

import (
	"sync"

	"go.uber.org/zap"

	"InfraSentinel/internal/model"
)

// Memory keeps every event it sees. Used by tests and the status command.
type Memory struct {
	mu     sync.Mutex
	events []model.Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Handle(evt model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

// Emit lets a Memory stand in directly as a component's Emitter.
func (m *Memory) Emit(evt model.Event) { m.Handle(evt) }

// All returns a copy of the recorded events.
func (m *Memory) All() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.events...)
}

// OfType returns recorded events of the given type, in order.
func (m *Memory) OfType(t model.EventType) []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the sequence of event types seen.
func (m *Memory) Types() []model.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// LogSink writes each event to the global zap logger.
type LogSink struct{}

func (LogSink) Handle(evt model.Event) {
	fields := []zap.Field{
		zap.String("event", string(evt.Type)),
		zap.String("source", evt.Source),
		zap.String("severity", evt.Severity),
	}
	if !evt.ProjectID.IsZero() {
		fields = append(fields, zap.String("project", evt.ProjectID.Short()))
	}
	if evt.RoundID != 0 {
		fields = append(fields, zap.Uint64("round", evt.RoundID))
	}
	for k, v := range evt.Attrs {
		fields = append(fields, zap.String(k, v))
	}

	switch evt.Severity {
	case model.AlertCritical, model.AlertRescueCallFailed:
		zap.L().Error(evt.Message, fields...)
	case model.AlertHigh, model.SeverityWarn:
		zap.L().Warn(evt.Message, fields...)
	default:
		zap.L().Info(evt.Message, fields...)
	}
}
