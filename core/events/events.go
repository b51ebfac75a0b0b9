// Package events defines the engine events emitted on the event bus. Events
// are published exactly once per causing transition, in the order the
// transitions were applied within a tick. They are the sole surface a
// transport or observability layer may rely on.
package events

import (
	"time"

	"github.com/agvflow/agvflow/core/model"
)

// Event is the union of all engine event types.
type Event any

// TaskCreated is published when a task request passes validation.
type TaskCreated struct {
	Task model.Task
}

// TaskAssigned is published when a pending task is committed to a vehicle.
type TaskAssigned struct {
	TaskID    string
	VehicleID int
	Path      []model.NodeID
}

// VehicleMoved is published for every admitted step.
type VehicleMoved struct {
	VehicleID int
	From      model.NodeID
	To        model.NodeID
	Battery   int
}

// VehicleWaiting is published when a step loses the reservation for its
// target node. The delay lasts one tick and carries no penalty forward.
type VehicleWaiting struct {
	VehicleID int
	Node      model.NodeID // contested node
	BlockedBy int          // vehicle holding the claim
}

// TaskCompleted is published when a vehicle reaches the task destination.
type TaskCompleted struct {
	TaskID    string
	VehicleID int
	Duration  time.Duration
}

// TaskFailed is published when a route is abandoned, e.g. battery exhaustion.
type TaskFailed struct {
	TaskID    string
	VehicleID int
	Reason    string
}

// ChargingStarted is published when a vehicle begins charging at the charger.
type ChargingStarted struct {
	VehicleID int
	Battery   int
}

// ChargingProgress is published once per charge cycle.
type ChargingProgress struct {
	VehicleID int
	Battery   int
}

// ChargingComplete is published when the battery reaches full charge and the
// vehicle returns to idle.
type ChargingComplete struct {
	VehicleID int
}

// ConflictsResolved is published after an advisory resolution pass.
type ConflictsResolved struct {
	Count int
}
