package notifier

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"InfraSentinel/internal/model"
)

// Sender delivers a message to the operators.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// alwaysNotify lists informational events operators still want to see.
var alwaysNotify = map[model.EventType]bool{
	model.EventRescueFundingInitiated: true,
	model.EventTrancheReleased:        true,
	model.EventRoundFunded:            true,
	model.EventRoundCompleted:         true,
}

// ShouldNotify reports whether an event is forwarded to the chat.
func ShouldNotify(evt model.Event) bool {
	if alwaysNotify[evt.Type] {
		return true
	}
	return evt.Severity != "" && evt.Severity != model.SeverityInfo
}

// AlertSink queues alert-worthy bus events and sends them from a background
// worker so emitters never block on the network.
type AlertSink struct {
	sender  Sender
	retries int
	queue   chan model.Event
	once    sync.Once
}

func NewAlertSink(sender Sender, buffer, retries int) *AlertSink {
	if buffer < 1 {
		buffer = 1
	}
	return &AlertSink{sender: sender, retries: retries, queue: make(chan model.Event, buffer)}
}

// Handle implements events.Sink. Events are dropped when the queue is full.
func (a *AlertSink) Handle(evt model.Event) {
	if !ShouldNotify(evt) {
		return
	}
	select {
	case a.queue <- evt:
	default:
		zap.L().Warn("alert queue full, dropping", zap.String("event", string(evt.Type)))
	}
}

// Run sends queued alerts until ctx is cancelled, then drains what is left
// with a best-effort single attempt.
func (a *AlertSink) Run(ctx context.Context) {
	for {
		select {
		case evt := <-a.queue:
			a.send(ctx, evt, a.retries)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

func (a *AlertSink) drain() {
	a.once.Do(func() {
		for {
			select {
			case evt := <-a.queue:
				a.send(context.Background(), evt, 0)
			default:
				return
			}
		}
	})
}

func (a *AlertSink) send(ctx context.Context, evt model.Event, retries int) {
	if err := a.sender.SendWithRetry(ctx, FormatEvent(evt), retries); err != nil {
		zap.L().Error("send alert",
			zap.String("event", string(evt.Type)),
			zap.Error(err))
	}
}
