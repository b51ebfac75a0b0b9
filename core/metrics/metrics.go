// Package metrics defines the sink interface the engine records into.
// Implementations live under infra/metrics.
package metrics

import (
	"time"

	"github.com/agvflow/agvflow/core/model"
)

// MoveEvent captures one admitted vehicle step.
type MoveEvent struct {
	VehicleID int
	From      model.NodeID
	To        model.NodeID
	Battery   int
	Charging  bool // step on a charging route
}

// WaitEvent captures a one-tick collision wait.
type WaitEvent struct {
	VehicleID int
	Node      model.NodeID
}

// CompletionEvent captures a finished transport task.
type CompletionEvent struct {
	TaskID    string
	VehicleID int
	Strategy  model.Strategy
	Hops      int
	Duration  time.Duration
}

// ChargeEvent captures one charging cycle.
type ChargeEvent struct {
	VehicleID int
	Battery   int
	Full      bool
}

// Sink records engine activity for observability purposes.
type Sink interface {
	RecordMove(ev MoveEvent) error
	RecordWait(ev WaitEvent) error
	RecordCompletion(ev CompletionEvent) error
	RecordCharge(ev ChargeEvent) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordMove(MoveEvent) error             { return nil }
func (NopSink) RecordWait(WaitEvent) error             { return nil }
func (NopSink) RecordCompletion(CompletionEvent) error { return nil }
func (NopSink) RecordCharge(ChargeEvent) error         { return nil }
