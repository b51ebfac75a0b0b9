package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTaskSpec flags a task request whose endpoints are out of range or
// equal. Such a request is rejected before entering the pending queue and is
// never retried.
var ErrInvalidTaskSpec = errors.New("invalid task spec")

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Priority orders tasks for assignment scoring and conflict resolution.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a comparable weight for the priority, higher meaning more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// Task is a transport request from a source node to a destination node.
type Task struct {
	ID          string
	Source      NodeID
	Destination NodeID
	Weight      float64 // payload weight in kg
	Priority    Priority

	Status    TaskStatus
	VehicleID int      // assigned vehicle, 0 when unassigned
	Path      []NodeID // planned walk from Source to Destination
	Charging  bool     // synthetic task routing a vehicle to the charger
	// RequestedBy pins a charging task to the low-battery vehicle that
	// triggered it. Zero for transport tasks.
	RequestedBy int

	// DelayedUntil holds back execution after an advisory conflict resolution.
	DelayedUntil time.Time

	CreatedAt   time.Time
	AssignedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTask builds a pending task with a fresh ID.
func NewTask(source, destination NodeID, weight float64, priority Priority, now time.Time) Task {
	return Task{
		ID:          uuid.NewString(),
		Source:      source,
		Destination: destination,
		Weight:      weight,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   now,
	}
}

// Validate checks the task endpoints against the topology size.
func (t Task) Validate(nodeCount int) error {
	if t.Source < 1 || int(t.Source) > nodeCount {
		return fmt.Errorf("%w: source %d out of range [1,%d]", ErrInvalidTaskSpec, t.Source, nodeCount)
	}
	if t.Destination < 1 || int(t.Destination) > nodeCount {
		return fmt.Errorf("%w: destination %d out of range [1,%d]", ErrInvalidTaskSpec, t.Destination, nodeCount)
	}
	if t.Source == t.Destination {
		return fmt.Errorf("%w: source and destination are both %d", ErrInvalidTaskSpec, t.Source)
	}
	return nil
}

// Terminal reports whether the task reached a final status.
func (t Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// ExecutionTime returns the duration between start and completion, or zero
// when the task never completed.
func (t Task) ExecutionTime() time.Duration {
	if t.CompletedAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
