package engine

import (
	"errors"
	"time"

	"github.com/agvflow/agvflow/core/assign"
	"github.com/agvflow/agvflow/core/events"
	"github.com/agvflow/agvflow/core/metrics"
	"github.com/agvflow/agvflow/core/model"
	"github.com/agvflow/agvflow/core/routing"
)

// Tick advances the simulation by one global movement step: charging
// triggers, pending assignment, reservation-checked admission, atomic move
// application, arrivals and the advisory conflict scan, all under the
// engine lock.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	e.chargingCheck(now)
	e.assignPending(now)
	e.step(now)
	e.detectLocked(now)
}

// step runs the admission and application phases of one movement tick.
func (e *Engine) step(now time.Time) {
	e.releaseHeld(now)

	// The reservation table never survives a tick.
	reservations := make(map[model.NodeID]int)

	// Admission walks vehicles in ascending ID over a working occupancy
	// view, so a higher-ID vehicle may enter a node a lower-ID vehicle
	// vacates in the same tick, but never contest a claim it lost.
	working := make(map[model.NodeID]int, len(e.occupied))
	for n, id := range e.occupied {
		working[n] = id
	}

	type admitted struct {
		id   int
		from model.NodeID
		to   model.NodeID
	}
	type waiting struct {
		id        int
		node      model.NodeID
		blockedBy int
	}
	var moves []admitted
	var waits []waiting

	for _, id := range e.order {
		r, ok := e.routes[id]
		if !ok || r.idx+1 >= len(r.path) {
			continue
		}
		t := e.tasks[r.taskID]
		if t != nil && !t.DelayedUntil.IsZero() {
			continue // held back by an advisory resolution
		}
		v := e.vehicles[id]
		next := r.path[r.idx+1]
		if holder, taken := working[next]; taken && holder != id {
			waits = append(waits, waiting{id: id, node: next, blockedBy: holder})
			continue
		}
		if holder, taken := reservations[next]; taken {
			waits = append(waits, waiting{id: id, node: next, blockedBy: holder})
			continue
		}
		reservations[next] = id
		delete(working, v.Node)
		working[next] = id
		moves = append(moves, admitted{id: id, from: v.Node, to: next})
	}

	// Application is atomic with respect to observers: all admitted moves
	// land before any event is published.
	for _, m := range moves {
		v := e.vehicles[m.id]
		r := e.routes[m.id]
		delete(e.occupied, v.Node)
		e.occupied[m.to] = m.id
		v.Node = m.to
		v.Distance++
		r.idx++
		if r.charging {
			v.Status = model.VehicleChargingRoute
			v.Drain(e.cfg.ChargeRouteDrain)
		} else {
			v.Status = model.VehicleMoving
			v.Drain(e.cfg.MoveDrain)
		}
	}
	for _, m := range moves {
		v := e.vehicles[m.id]
		e.bus.Publish(events.VehicleMoved{VehicleID: m.id, From: m.from, To: m.to, Battery: v.Battery})
		e.record(e.sink.RecordMove(metrics.MoveEvent{
			VehicleID: m.id, From: m.from, To: m.to, Battery: v.Battery, Charging: e.routes[m.id].charging,
		}))
		e.afterMove(m.id, now)
	}
	for _, w := range waits {
		e.bus.Publish(events.VehicleWaiting{VehicleID: w.id, Node: w.node, BlockedBy: w.blockedBy})
		e.record(e.sink.RecordWait(metrics.WaitEvent{VehicleID: w.id, Node: w.node}))
		e.log.Debugf("vehicle %d waiting at node %d (blocked by %d)", w.id, w.node, w.blockedBy)
	}
}

// releaseHeld lifts expired advisory holds. The fleet moved while the task
// sat still, so the old route may now run through resting vehicles; the hold
// stays, retried every tick, until a route around them exists.
func (e *Engine) releaseHeld(now time.Time) {
	for _, id := range e.order {
		r, ok := e.routes[id]
		if !ok {
			continue
		}
		t := e.tasks[r.taskID]
		if t == nil || t.DelayedUntil.IsZero() || now.Before(t.DelayedUntil) {
			continue
		}
		if e.replanHeld(id, r, t, now) {
			t.DelayedUntil = time.Time{}
		}
	}
}

// replanHeld rebuilds the remaining route of a delay-held vehicle, treating
// every other vehicle's current node as impassable. It reports whether a
// route was found.
func (e *Engine) replanHeld(id int, r *route, t *model.Task, now time.Time) bool {
	v := e.vehicles[id]
	blocked := make(map[model.NodeID]bool, len(e.occupied))
	for node, holder := range e.occupied {
		if holder != id {
			blocked[node] = true
		}
	}
	// Positional detour only: time-window projections of routes that are
	// themselves about to move are stale, and admission still guards the
	// per-tick claims.
	c := routing.Constraints{Blocked: blocked, Now: now}
	finder := routing.ForStrategy(v.Strategy)

	if r.idx < r.pickupEnd {
		pickup, err := finder.FindPath(e.gr, v.Node, t.Source, c)
		if err != nil {
			e.log.Debugf("task %s hold continues, pickup replan: %v", t.ID, err)
			return false
		}
		delivery, err := finder.FindPath(e.gr, t.Source, t.Destination, c)
		if err != nil {
			e.log.Debugf("task %s hold continues, delivery replan: %v", t.ID, err)
			return false
		}
		t.Path = delivery
		r.path = joinLegs(pickup, delivery)
		r.idx = 0
		r.pickupEnd = len(pickup) - 1
		e.log.Infof("task %s replanned after hold (%d hops)", t.ID, len(r.path)-1)
		return true
	}

	remaining, err := finder.FindPath(e.gr, v.Node, t.Destination, c)
	if err != nil {
		e.log.Debugf("task %s hold continues, replan: %v", t.ID, err)
		return false
	}
	// Splice the new tail onto the hops already driven so the recorded path
	// stays a contiguous walk from source to destination.
	driven := r.idx - r.pickupEnd
	t.Path = append(append([]model.NodeID(nil), t.Path[:driven+1]...), remaining[1:]...)
	r.path = append(append([]model.NodeID(nil), r.path[:r.idx+1]...), remaining[1:]...)
	e.log.Infof("task %s replanned after hold (%d hops left)", t.ID, len(remaining)-1)
	return true
}

func joinLegs(pickup, delivery []model.NodeID) []model.NodeID {
	if len(pickup) <= 1 {
		return delivery
	}
	joined := make([]model.NodeID, 0, len(pickup)+len(delivery)-1)
	joined = append(joined, pickup...)
	joined = append(joined, delivery[1:]...)
	return joined
}

// afterMove applies post-step transitions for one vehicle: pickup reached,
// battery exhausted, or route end reached.
func (e *Engine) afterMove(id int, now time.Time) {
	v := e.vehicles[id]
	r := e.routes[id]
	t := e.tasks[r.taskID]

	if !r.charging && r.idx == r.pickupEnd && t.Status == model.TaskAssigned {
		t.Status = model.TaskExecuting
		t.StartedAt = now
	}

	if v.Battery == 0 && r.idx < len(r.path)-1 {
		e.failRoute(v, r, t, "battery exhausted", now)
		return
	}

	if r.idx == len(r.path)-1 {
		e.arrive(v, r, t, now)
	}
}

// arrive finishes a route: charging routes park the vehicle at the charger,
// transport routes complete the task and free the vehicle.
func (e *Engine) arrive(v *model.Vehicle, r *route, t *model.Task, now time.Time) {
	delete(e.routes, v.ID)
	t.CompletedAt = now
	t.Status = model.TaskCompleted
	if r.charging {
		v.Status = model.VehicleCharging
		v.TaskID = ""
		e.bus.Publish(events.ChargingStarted{VehicleID: v.ID, Battery: v.Battery})
		e.log.Infof("vehicle %d charging at node %d (battery %d)", v.ID, v.Node, v.Battery)
		return
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = t.AssignedAt
	}
	hops := len(t.Path) - 1
	v.Status = model.VehicleIdle
	v.TaskID = ""
	v.Completed++
	if hops > 0 {
		v.LastEfficiency = float64(e.gr.Manhattan(t.Source, t.Destination)) / float64(hops)
	}
	e.bus.Publish(events.TaskCompleted{TaskID: t.ID, VehicleID: v.ID, Duration: t.ExecutionTime()})
	e.record(e.sink.RecordCompletion(metrics.CompletionEvent{
		TaskID: t.ID, VehicleID: v.ID, Strategy: v.Strategy, Hops: hops, Duration: t.ExecutionTime(),
	}))
	e.log.Infof("task %s completed by vehicle %d in %d hops", t.ID, v.ID, hops)
}

// failRoute abandons an in-flight route, leaving the vehicle faulted at its
// current graph-valid node.
func (e *Engine) failRoute(v *model.Vehicle, r *route, t *model.Task, reason string, now time.Time) {
	delete(e.routes, v.ID)
	v.Status = model.VehicleFaulted
	v.TaskID = ""
	t.Status = model.TaskFailed
	t.CompletedAt = now
	e.bus.Publish(events.TaskFailed{TaskID: t.ID, VehicleID: v.ID, Reason: reason})
	e.log.Warnf("task %s failed on vehicle %d: %s", t.ID, v.ID, reason)
}

// ChargeTick advances every charging vehicle by one charge cycle. Full
// batteries return their vehicle to idle.
func (e *Engine) ChargeTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.order {
		v := e.vehicles[id]
		if v.Status != model.VehicleCharging {
			continue
		}
		full := v.Charge(e.cfg.ChargeIncrement)
		e.bus.Publish(events.ChargingProgress{VehicleID: id, Battery: v.Battery})
		e.record(e.sink.RecordCharge(metrics.ChargeEvent{VehicleID: id, Battery: v.Battery, Full: full}))
		if full {
			v.Status = model.VehicleIdle
			e.bus.Publish(events.ChargingComplete{VehicleID: id})
			e.log.Infof("vehicle %d fully charged", id)
		}
	}
}

// chargingCheck routes idle low-battery vehicles into the charging pipeline.
// A vehicle already at the charger starts charging in place; anyone else
// gets a synthetic charging task through the normal assignment flow.
func (e *Engine) chargingCheck(now time.Time) {
	for _, id := range e.order {
		v := e.vehicles[id]
		if !v.Idle() || !v.NeedsCharge(e.cfg.LowBatteryThreshold) {
			continue
		}
		if v.Node == e.cfg.ChargingNode {
			v.Status = model.VehicleCharging
			e.bus.Publish(events.ChargingStarted{VehicleID: id, Battery: v.Battery})
			e.log.Infof("vehicle %d charging at node %d (battery %d)", id, v.Node, v.Battery)
			continue
		}
		if e.hasChargingTask(id) {
			continue
		}
		t := model.NewTask(v.Node, e.cfg.ChargingNode, 0, model.PriorityHigh, now)
		t.Charging = true
		t.RequestedBy = id
		e.tasks[t.ID] = &t
		e.taskSeq = append(e.taskSeq, t.ID)
		e.pending = append(e.pending, t.ID)
		e.bus.Publish(events.TaskCreated{Task: t})
		e.log.Infof("charging task %s created for vehicle %d (battery %d)", t.ID, id, v.Battery)
	}
}

func (e *Engine) hasChargingTask(vehicleID int) bool {
	for _, t := range e.tasks {
		if t.Charging && t.RequestedBy == vehicleID && !t.Terminal() {
			return true
		}
	}
	return false
}

// assignPending walks the pending queue in arrival order and commits every
// assignment the assigner can plan. Tasks without a path stay pending.
func (e *Engine) assignPending(now time.Time) {
	fleet := e.fleetLocked()
	var remaining []string
	transportExhausted := false
	for _, id := range e.pending {
		t := e.tasks[id]
		if t == nil || t.Terminal() {
			continue
		}
		if transportExhausted && !t.Charging {
			remaining = append(remaining, id)
			continue
		}
		dec, err := e.assigner.Assign(*t, fleet, e.constraintsLocked(now))
		switch {
		case err == nil:
			e.commit(t, dec, now)
			fleet = e.fleetLocked()
		case errors.Is(err, assign.ErrNoVehicleAvailable):
			// Transient: once no vehicle fits a transport task, none will
			// fit the rest this pass.
			if !t.Charging {
				transportExhausted = true
			}
			remaining = append(remaining, id)
		case errors.Is(err, routing.ErrNoPathFound):
			e.attempts[id]++
			if n := e.attempts[id]; n%10 == 0 {
				e.log.Warnf("task %s still unroutable after %d attempts: %v", id, n, err)
			} else {
				e.log.Debugf("task %s not routable: %v", id, err)
			}
			remaining = append(remaining, id)
		default:
			e.log.Errorf("assign task %s: %v", id, err)
			remaining = append(remaining, id)
		}
	}
	e.pending = remaining
}

// commit applies a planning decision: pending -> assigned, idle -> planning
// (or charging_route), and the route handed to the movement loop.
func (e *Engine) commit(t *model.Task, dec assign.Decision, now time.Time) {
	v := e.vehicles[dec.VehicleID]
	t.Status = model.TaskAssigned
	t.VehicleID = dec.VehicleID
	t.AssignedAt = now
	t.Path = dec.Delivery
	v.TaskID = t.ID
	if t.Charging {
		v.Status = model.VehicleChargingRoute
	} else {
		v.Status = model.VehiclePlanning
	}
	r := &route{
		taskID:    t.ID,
		path:      dec.Route(),
		idx:       0,
		pickupEnd: len(dec.Pickup) - 1,
		charging:  t.Charging,
	}
	e.routes[v.ID] = r
	delete(e.attempts, t.ID)
	if !t.Charging && r.pickupEnd == 0 {
		t.Status = model.TaskExecuting
		t.StartedAt = now
	}
	e.bus.Publish(events.TaskAssigned{TaskID: t.ID, VehicleID: v.ID, Path: append([]model.NodeID(nil), t.Path...)})
}

// constraintsLocked projects in-flight routes into expected node claim times
// for the time-window strategy.
func (e *Engine) constraintsLocked(now time.Time) routing.Constraints {
	occ := make(map[model.NodeID][]time.Time)
	for _, id := range e.order {
		r, ok := e.routes[id]
		if !ok {
			continue
		}
		for k := r.idx + 1; k < len(r.path); k++ {
			eta := now.Add(time.Duration(k-r.idx) * e.cfg.TickInterval)
			occ[r.path[k]] = append(occ[r.path[k]], eta)
		}
	}
	return routing.Constraints{
		Occupied:     occ,
		Now:          now,
		SlotDuration: e.cfg.TickInterval,
		Tolerance:    e.cfg.SlotTolerance,
	}
}

// detectLocked runs the advisory overlap scan over the task snapshot.
func (e *Engine) detectLocked(now time.Time) {
	found := e.detector.Scan(e.tasksLocked(), now)
	for _, c := range found {
		e.log.Warnf("path conflict %s between tasks %s and %s (%d shared nodes, %s)",
			c.ID, c.TaskA, c.TaskB, len(c.SharedNodes), c.Severity)
	}
}

func (e *Engine) record(err error) {
	if err != nil {
		e.log.Errorf("metrics record: %v", err)
	}
}
