// Package engine implements the fleet coordination authority: task intake
// and assignment, the reservation-checked movement tick, the charging state
// machine and the advisory conflict surface. All mutable fleet and task
// state is owned here and serialized behind one mutex; collision checking is
// global, so per-vehicle locking would be unsound.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agvflow/agvflow/core/analytics"
	"github.com/agvflow/agvflow/core/assign"
	"github.com/agvflow/agvflow/core/conflict"
	"github.com/agvflow/agvflow/core/events"
	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/logger"
	"github.com/agvflow/agvflow/core/metrics"
	"github.com/agvflow/agvflow/core/model"
	"github.com/agvflow/agvflow/internal/eventbus"
)

// Config carries the engine tuning parameters.
type Config struct {
	ChargingNode        model.NodeID  `json:"charging_node"`
	LowBatteryThreshold int           `json:"low_battery_threshold"`
	ChargeIncrement     int           `json:"charge_increment"`
	MoveDrain           int           `json:"move_drain"`
	ChargeRouteDrain    int           `json:"charge_route_drain"`
	TickInterval        time.Duration `json:"-"`
	ChargeInterval      time.Duration `json:"-"`
	SlotTolerance       time.Duration `json:"-"`
	ConflictDelay       time.Duration `json:"-"`
}

// SetDefaults fills unset fields with the standard tuning.
func (c *Config) SetDefaults() {
	if c.LowBatteryThreshold == 0 {
		c.LowBatteryThreshold = 30
	}
	if c.ChargeIncrement == 0 {
		c.ChargeIncrement = 20
	}
	if c.MoveDrain == 0 {
		c.MoveDrain = 3
	}
	if c.ChargeRouteDrain == 0 {
		c.ChargeRouteDrain = 1
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.ChargeInterval == 0 {
		c.ChargeInterval = c.TickInterval
	}
	if c.SlotTolerance == 0 {
		c.SlotTolerance = 5 * time.Minute
	}
	if c.ConflictDelay == 0 {
		c.ConflictDelay = conflict.DefaultDelay
	}
}

// VehicleSpec describes one fleet member at startup.
type VehicleSpec struct {
	ID       int            `json:"id"`
	Start    model.NodeID   `json:"start"`
	Battery  int            `json:"battery"`
	Strategy model.Strategy `json:"strategy"`
}

// TaskSpec is an external task-creation request. Single submissions and
// dataset-derived batches both reduce to this shape.
type TaskSpec struct {
	Source      model.NodeID   `json:"source"`
	Destination model.NodeID   `json:"destination"`
	Weight      float64        `json:"weight"`
	Priority    model.Priority `json:"priority"`
}

// route is the in-flight drive of one vehicle: the combined pickup and
// delivery walk plus the current position index.
type route struct {
	taskID    string
	path      []model.NodeID
	idx       int
	pickupEnd int // path index at which the task source is reached
	charging  bool
}

// Engine owns the fleet, the task registry and the per-tick reservation
// table.
type Engine struct {
	mu  sync.Mutex
	gr  *graph.Graph
	cfg Config

	vehicles map[int]*model.Vehicle
	order    []int // vehicle IDs ascending; the deterministic tie-break
	tasks    map[string]*model.Task
	taskSeq  []string // task IDs in creation order
	pending  []string
	occupied map[model.NodeID]int
	routes   map[int]*route
	attempts map[string]int // consecutive planning failures per task

	assigner *assign.Assigner
	detector *conflict.Detector
	bus      *eventbus.Bus[events.Event]
	sink     metrics.Sink
	log      logger.Logger
	now      func() time.Time

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New builds an Engine over the topology with the given fleet. Start nodes
// must exist and be pairwise distinct: live occupancy is injective from the
// first tick.
func New(g *graph.Graph, cfg Config, fleet []VehicleSpec, log logger.Logger) (*Engine, error) {
	cfg.SetDefaults()
	if !g.Contains(cfg.ChargingNode) {
		return nil, fmt.Errorf("charging node %d not in topology", cfg.ChargingNode)
	}
	if len(fleet) == 0 {
		return nil, errors.New("fleet must not be empty")
	}
	e := &Engine{
		gr:       g,
		cfg:      cfg,
		vehicles: make(map[int]*model.Vehicle, len(fleet)),
		tasks:    make(map[string]*model.Task),
		occupied: make(map[model.NodeID]int, len(fleet)),
		routes:   make(map[int]*route),
		attempts: make(map[string]int),
		assigner: assign.New(g, cfg.LowBatteryThreshold, log),
		detector: conflict.NewDetector(),
		bus:      eventbus.New[events.Event](),
		sink:     metrics.NopSink{},
		log:      log,
		now:      time.Now,
	}
	for _, spec := range fleet {
		if !g.Contains(spec.Start) {
			return nil, fmt.Errorf("vehicle %d start node %d not in topology", spec.ID, spec.Start)
		}
		if other, taken := e.occupied[spec.Start]; taken {
			return nil, fmt.Errorf("vehicles %d and %d share start node %d", other, spec.ID, spec.Start)
		}
		if _, dup := e.vehicles[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate vehicle id %d", spec.ID)
		}
		battery := spec.Battery
		if battery <= 0 || battery > 100 {
			battery = 100
		}
		strategy := spec.Strategy
		if strategy == "" {
			strategy = model.StrategyAStar
		}
		e.vehicles[spec.ID] = &model.Vehicle{
			ID:       spec.ID,
			Node:     spec.Start,
			Battery:  battery,
			Status:   model.VehicleIdle,
			Strategy: strategy,
		}
		e.occupied[spec.Start] = spec.ID
		e.order = append(e.order, spec.ID)
	}
	sort.Ints(e.order)
	return e, nil
}

// SetMetricsSink configures the sink engine activity is recorded into.
func (e *Engine) SetMetricsSink(sink metrics.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sink != nil {
		e.sink = sink
	}
}

// SetClock overrides the wall clock, letting tests pin simulated time.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now != nil {
		e.now = now
	}
}

// Events returns a subscription to the engine event stream.
func (e *Engine) Events() <-chan events.Event { return e.bus.Subscribe() }

// Unsubscribe releases an event subscription.
func (e *Engine) Unsubscribe(ch <-chan events.Event) { e.bus.Unsubscribe(ch) }

// SubmitTask validates and enqueues one transport request, then immediately
// attempts assignment. An invalid spec is rejected before entering the queue.
func (e *Engine) SubmitTask(spec TaskSpec) (model.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitLocked(spec)
}

// SubmitBatch feeds a dataset-derived batch through the same path as single
// submissions. Invalid entries are skipped and reported jointly.
func (e *Engine) SubmitBatch(specs []TaskSpec) ([]model.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var created []model.Task
	var errs []error
	for i, spec := range specs {
		t, err := e.submitLocked(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("batch entry %d: %w", i, err))
			continue
		}
		created = append(created, t)
	}
	return created, errors.Join(errs...)
}

func (e *Engine) submitLocked(spec TaskSpec) (model.Task, error) {
	now := e.now()
	t := model.NewTask(spec.Source, spec.Destination, spec.Weight, spec.Priority, now)
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if err := t.Validate(e.gr.NodeCount()); err != nil {
		return model.Task{}, err
	}
	e.tasks[t.ID] = &t
	e.taskSeq = append(e.taskSeq, t.ID)
	e.pending = append(e.pending, t.ID)
	e.bus.Publish(events.TaskCreated{Task: t})
	e.log.Infof("task %s created: %d -> %d (%s)", t.ID, t.Source, t.Destination, t.Priority)
	e.assignPending(now)
	return *e.tasks[t.ID], nil
}

// Snapshot returns copies of the fleet and task registries, vehicles in ID
// order, tasks in creation order.
func (e *Engine) Snapshot() ([]model.Vehicle, []model.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fleetLocked(), e.tasksLocked()
}

func (e *Engine) fleetLocked() []model.Vehicle {
	fleet := make([]model.Vehicle, 0, len(e.order))
	for _, id := range e.order {
		fleet = append(fleet, *e.vehicles[id])
	}
	return fleet
}

func (e *Engine) tasksLocked() []model.Task {
	tasks := make([]model.Task, 0, len(e.taskSeq))
	for _, id := range e.taskSeq {
		t := *e.tasks[id]
		t.Path = append([]model.NodeID(nil), t.Path...)
		tasks = append(tasks, t)
	}
	return tasks
}

// Conflicts returns the advisory conflict list, unresolved first.
func (e *Engine) Conflicts() []model.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detector.Conflicts()
}

// ResolveConflicts clears the flagged set, delaying the lower-priority task
// of each pair, and returns the number of conflicts resolved.
func (e *Engine) ResolveConflicts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	resolutions := e.detector.Resolve(now, e.cfg.ConflictDelay)
	for _, r := range resolutions {
		if t, ok := e.tasks[r.TaskID]; ok && !t.Terminal() {
			t.DelayedUntil = r.Until
			e.log.Infof("task %s delayed until %s after conflict resolution", t.ID, r.Until.Format(time.RFC3339))
		}
	}
	if len(resolutions) > 0 {
		e.bus.Publish(events.ConflictsResolved{Count: len(resolutions)})
	}
	return len(resolutions)
}

// Report aggregates snapshot analytics over the current engine state.
func (e *Engine) Report() analytics.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	resolved, total := e.detector.Counts()
	return analytics.Aggregate(e.tasksLocked(), e.fleetLocked(), resolved, total)
}
