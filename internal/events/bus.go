// Package events fans component events out to the recorder, notifier and log.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"InfraSentinel/internal/model"
)

// Emitter is what components publish to.
type Emitter interface {
	Emit(evt model.Event)
}

// Sink receives every event published on a Bus.
type Sink interface {
	Handle(evt model.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evt model.Event)

func (f SinkFunc) Handle(evt model.Event) { f(evt) }

// Bus delivers events synchronously, in emission order, to each sink.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
	nowFn func() time.Time
}

// NewBus creates a Bus with the given sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks, nowFn: time.Now}
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit stamps the event with an id and time if missing and hands it to every sink.
// A panicking sink is logged and skipped.
func (b *Bus) Emit(evt model.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = b.nowFn().UTC()
	}

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		deliver(s, evt)
	}
}

func deliver(s Sink, evt model.Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("event sink panicked",
				zap.String("event", string(evt.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	s.Handle(evt)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(model.Event) {}
