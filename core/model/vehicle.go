package model

// NodeID identifies a node in the transport topology.
type NodeID int

// VehicleStatus describes the lifecycle state of a vehicle.
type VehicleStatus string

const (
	VehicleIdle          VehicleStatus = "idle"
	VehiclePlanning      VehicleStatus = "planning"
	VehicleMoving        VehicleStatus = "moving"
	VehicleChargingRoute VehicleStatus = "charging_route"
	VehicleCharging      VehicleStatus = "charging"
	VehicleFaulted       VehicleStatus = "faulted"
)

// Strategy names a route-planning algorithm configured for a vehicle.
type Strategy string

const (
	StrategyAStar    Strategy = "astar"
	StrategyDijkstra Strategy = "dijkstra"
	StrategyACO      Strategy = "aco"
)

// Vehicle represents an autonomous transport vehicle in the fleet.
type Vehicle struct {
	ID       int
	Node     NodeID // current resting node
	Battery  int    // charge points between 0 and 100
	Status   VehicleStatus
	TaskID   string // active task, empty when none
	Strategy Strategy

	// Cumulative metrics updated on task completion.
	Completed      int
	Distance       int     // total hops driven
	LastEfficiency float64 // manhattan distance / actual path length of last task
}

// Idle reports whether the vehicle is at rest with no work assigned.
func (v Vehicle) Idle() bool { return v.Status == VehicleIdle }

// NeedsCharge reports whether the battery is at or below the low-battery threshold.
func (v Vehicle) NeedsCharge(threshold int) bool { return v.Battery <= threshold }

// Dispatchable reports whether the vehicle may accept a new transport task.
// Vehicles below the threshold are reserved for the charging pipeline.
func (v Vehicle) Dispatchable(threshold int) bool {
	return v.Status == VehicleIdle && v.Battery > threshold
}

// Drain lowers the battery by n points, clamped at zero.
func (v *Vehicle) Drain(n int) {
	v.Battery -= n
	if v.Battery < 0 {
		v.Battery = 0
	}
}

// Charge raises the battery by n points, clamped at 100. It returns true when
// the battery reached full charge.
func (v *Vehicle) Charge(n int) bool {
	v.Battery += n
	if v.Battery > 100 {
		v.Battery = 100
	}
	return v.Battery == 100
}
