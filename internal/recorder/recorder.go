package recorder

import (
	"go.uber.org/zap"

	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

// SolvencyRecord is one ingested solvency report together with where it came from.
type SolvencyRecord struct {
	Report  model.SolvencyReport
	Source  string
	Alerted bool
	RoundID uint64
}

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordEvent(evt model.Event) error
	RecordSolvency(rec *SolvencyRecord) error
	RecordReserveCheck(rec model.ReserveRecord) error
	RecordEngineCheck(rec model.EngineReserveRecord) error
	Close() error
}

// EventSink writes every bus event to the recorder. Failures are logged and dropped.
func EventSink(r Recorder) events.Sink {
	return events.SinkFunc(func(evt model.Event) {
		if err := r.RecordEvent(evt); err != nil {
			zap.L().Warn("record event failed",
				zap.String("type", string(evt.Type)),
				zap.String("id", evt.ID),
				zap.Error(err))
		}
	})
}
