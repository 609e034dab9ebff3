package recorder

import "InfraSentinel/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvent(_ model.Event) error                     { return nil }
func (n *NoopRecorder) RecordSolvency(_ *SolvencyRecord) error              { return nil }
func (n *NoopRecorder) RecordReserveCheck(_ model.ReserveRecord) error      { return nil }
func (n *NoopRecorder) RecordEngineCheck(_ model.EngineReserveRecord) error { return nil }
func (n *NoopRecorder) Close() error                                        { return nil }
