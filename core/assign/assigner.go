// Package assign scores idle vehicles against pending tasks and plans the
// winning vehicle's route.
package assign

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/logger"
	"github.com/agvflow/agvflow/core/model"
	"github.com/agvflow/agvflow/core/routing"
)

// ErrNoVehicleAvailable signals that no idle vehicle with sufficient battery
// exists right now. The condition is transient; callers may resubmit.
var ErrNoVehicleAvailable = errors.New("no vehicle available")

// algorithmBonus rewards the vehicle's configured routing strategy.
var algorithmBonus = map[model.Strategy]int{
	model.StrategyAStar:    15,
	model.StrategyDijkstra: 12,
	model.StrategyACO:      8,
}

// Decision is a committed assignment: the winning vehicle plus its planned
// legs. Pickup runs from the vehicle's node to the task source, Delivery from
// source to destination; both end-inclusive.
type Decision struct {
	VehicleID int
	Score     int
	Pickup    []model.NodeID
	Delivery  []model.NodeID
}

// Route returns the full drive, pickup and delivery joined at the source.
func (d Decision) Route() []model.NodeID {
	if len(d.Pickup) <= 1 {
		return d.Delivery
	}
	route := make([]model.NodeID, 0, len(d.Pickup)+len(d.Delivery)-1)
	route = append(route, d.Pickup...)
	route = append(route, d.Delivery[1:]...)
	return route
}

// Assigner selects a vehicle for a task and plans its route with the
// vehicle's configured strategy.
type Assigner struct {
	graph     *graph.Graph
	threshold int // low-battery cutoff for candidacy
	log       logger.Logger
}

// New creates an Assigner over the given topology.
func New(g *graph.Graph, lowBatteryThreshold int, log logger.Logger) *Assigner {
	return &Assigner{graph: g, threshold: lowBatteryThreshold, log: log}
}

// Assign picks the highest-scoring dispatchable vehicle and plans both route
// legs. Ties break to the lowest vehicle ID. On ErrNoPathFound no state
// changes and the task stays pending. Synthetic charging tasks bypass the
// battery cutoff: the requesting vehicle is low by definition.
func (a *Assigner) Assign(task model.Task, fleet []model.Vehicle, c routing.Constraints) (Decision, error) {
	candidates := make([]model.Vehicle, 0, len(fleet))
	for _, v := range fleet {
		if task.Charging {
			if v.ID == task.RequestedBy && v.Idle() {
				candidates = append(candidates, v)
			}
			continue
		}
		if v.Dispatchable(a.threshold) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return Decision{}, ErrNoVehicleAvailable
	}
	// Ascending ID plus strict comparison gives the lowest-ID tie-break.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	best := candidates[0]
	bestScore := a.score(best, task)
	for _, v := range candidates[1:] {
		if s := a.score(v, task); s > bestScore {
			best, bestScore = v, s
		}
	}

	finder := routing.ForStrategy(best.Strategy)
	pickup, err := finder.FindPath(a.graph, best.Node, task.Source, c)
	if err != nil {
		return Decision{}, fmt.Errorf("pickup leg %d->%d: %w", best.Node, task.Source, err)
	}
	delivery, err := finder.FindPath(a.graph, task.Source, task.Destination, c)
	if err != nil {
		return Decision{}, fmt.Errorf("delivery leg %d->%d: %w", task.Source, task.Destination, err)
	}
	a.log.Debugw("task assigned", map[string]any{
		"task":    task.ID,
		"vehicle": best.ID,
		"score":   bestScore,
		"hops":    len(pickup) + len(delivery) - 2,
	})
	return Decision{VehicleID: best.ID, Score: bestScore, Pickup: pickup, Delivery: delivery}, nil
}

// score implements the additive assignment heuristic: proximity dominates,
// battery headroom, task priority and strategy preference refine it.
func (a *Assigner) score(v model.Vehicle, task model.Task) int {
	s := (10 - a.graph.Manhattan(v.Node, task.Source)) * 10
	switch {
	case v.Battery > 50:
		s += 30
	case v.Battery > 25:
		s += 15
	}
	switch task.Priority {
	case model.PriorityHigh:
		s += 20
	case model.PriorityMedium:
		s += 10
	default:
		s += 5
	}
	return s + algorithmBonus[v.Strategy]
}
