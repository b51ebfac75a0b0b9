package model

import "time"

// ConflictSeverity grades an advisory path overlap.
type ConflictSeverity string

const (
	SeverityWarning  ConflictSeverity = "warning"
	SeverityCritical ConflictSeverity = "critical"
)

// Conflict records an advisory overlap between two planned paths. It carries
// no physical-safety weight: the per-tick reservation table is what actually
// keeps vehicles apart.
type Conflict struct {
	ID          string
	TaskA       string
	TaskB       string
	VehicleA    int
	VehicleB    int
	SharedNodes []NodeID
	Severity    ConflictSeverity
	DetectedAt  time.Time
	Resolved    bool
	Resolution  string
}
