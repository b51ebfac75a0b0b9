// Package routing provides pluggable route-planning strategies over the
// transport topology. All strategies are deterministic: identical inputs
// always produce the identical node sequence.
package routing

import (
	"errors"
	"time"

	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/model"
)

// ErrNoPathFound signals that no route exists between the requested
// endpoints, either because the topology disconnects them or because the
// active constraints prune every candidate.
var ErrNoPathFound = errors.New("no path found")

// DefaultSlotTolerance is the time-window collision tolerance applied when
// Constraints leaves it unset.
const DefaultSlotTolerance = 5 * time.Minute

// Constraints carries the scheduling context a strategy may honor. The
// zero value imposes no constraints.
type Constraints struct {
	// Occupied maps nodes to the times at which they are expected to be
	// claimed by already-planned routes.
	Occupied map[model.NodeID][]time.Time
	// Blocked lists nodes that may not be entered at all, regardless of
	// timing. Used when replanning around vehicles resting on the route.
	Blocked map[model.NodeID]bool
	// Now anchors arrival-time estimates.
	Now time.Time
	// SlotDuration is the estimated travel time per hop.
	SlotDuration time.Duration
	// Tolerance is the window within which an estimated arrival counts as
	// colliding with an existing claim. Zero means DefaultSlotTolerance.
	Tolerance time.Duration
}

func (c Constraints) tolerance() time.Duration {
	if c.Tolerance <= 0 {
		return DefaultSlotTolerance
	}
	return c.Tolerance
}

// collides reports whether arriving at node at the estimated time falls
// within the tolerance of an existing claim.
func (c Constraints) collides(node model.NodeID, arrival time.Time) bool {
	tol := c.tolerance()
	for _, claim := range c.Occupied[node] {
		d := arrival.Sub(claim)
		if d < 0 {
			d = -d
		}
		if d <= tol {
			return true
		}
	}
	return false
}

// Finder computes a route between two nodes of the topology.
type Finder interface {
	// FindPath returns the node sequence from start to end inclusive, or
	// ErrNoPathFound. Disconnected endpoints never yield an empty path.
	FindPath(g *graph.Graph, start, end model.NodeID, c Constraints) ([]model.NodeID, error)
	// Name identifies the strategy.
	Name() model.Strategy
}

// ForStrategy returns the Finder registered for the strategy name, falling
// back to Grid-A* for unknown names.
func ForStrategy(s model.Strategy) Finder {
	switch s {
	case model.StrategyDijkstra:
		return TimeWindowFinder{}
	case model.StrategyACO:
		return ACOFinder{}
	default:
		return AStarFinder{}
	}
}
