// Package conflict implements advisory detection of overlapping planned
// paths. It runs independently of the per-tick reservation table: detection
// and resolution here inform the operator, they never move a vehicle.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agvflow/agvflow/core/model"
)

// DefaultDelay is the simulated interval a lower-priority task is pushed back
// by during resolution.
const DefaultDelay = 10 * time.Minute

// Resolution instructs the engine to hold a task's execution until the given
// time.
type Resolution struct {
	TaskID string
	Until  time.Time
}

// Detector scans active planned paths for overlaps and accumulates
// resolution statistics for reporting.
type Detector struct {
	active   map[string]*model.Conflict // unresolved, keyed by task pair
	prio     map[string][2]model.Priority
	cooldown map[string]time.Time // resolved pairs are not re-flagged before this
	history  []model.Conflict
	resolved int
	total    int
}

// NewDetector creates an empty Detector.
func NewDetector() *Detector {
	return &Detector{
		active:   make(map[string]*model.Conflict),
		prio:     make(map[string][2]model.Priority),
		cooldown: make(map[string]time.Time),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Scan flags a path_conflict for every pair of assigned or executing tasks
// whose planned paths share more than one node. Pairs already flagged and
// unresolved are not duplicated, and a pair whose resolution delay is still
// running is not re-flagged. It returns the newly detected conflicts.
func (d *Detector) Scan(tasks []model.Task, now time.Time) []model.Conflict {
	var live []model.Task
	for _, t := range tasks {
		if t.Status == model.TaskAssigned || t.Status == model.TaskExecuting {
			live = append(live, t)
		}
	}
	var found []model.Conflict
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			a, b := live[i], live[j]
			shared := sharedNodes(a.Path, b.Path)
			if len(shared) <= 1 {
				continue
			}
			key := pairKey(a.ID, b.ID)
			if _, ok := d.active[key]; ok {
				continue
			}
			if until, ok := d.cooldown[key]; ok {
				if now.Before(until) {
					continue // resolution delay still running
				}
				delete(d.cooldown, key)
			}
			sev := model.SeverityWarning
			if len(shared) > 2 {
				sev = model.SeverityCritical
			}
			c := model.Conflict{
				ID:          uuid.NewString(),
				TaskA:       a.ID,
				TaskB:       b.ID,
				VehicleA:    a.VehicleID,
				VehicleB:    b.VehicleID,
				SharedNodes: shared,
				Severity:    sev,
				DetectedAt:  now,
			}
			d.active[key] = &c
			d.prio[key] = [2]model.Priority{a.Priority, b.Priority}
			d.total++
			found = append(found, c)
		}
	}
	return found
}

// Resolve clears the flagged set, delaying the lower-priority task of each
// pair by delay (equal priorities delay the later-flagged task). The cleared
// conflicts move to history; the resolved count accumulates.
func (d *Detector) Resolve(now time.Time, delay time.Duration) []Resolution {
	if delay <= 0 {
		delay = DefaultDelay
	}
	keys := make([]string, 0, len(d.active))
	for key := range d.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var out []Resolution
	for _, key := range keys {
		c := d.active[key]
		prio := d.prio[key]
		victim := c.TaskB
		if prio[1].Rank() > prio[0].Rank() {
			victim = c.TaskA
		}
		c.Resolved = true
		c.Resolution = fmt.Sprintf("delayed task %s by %s", victim, delay)
		d.history = append(d.history, *c)
		d.resolved++
		until := now.Add(delay)
		d.cooldown[key] = until
		out = append(out, Resolution{TaskID: victim, Until: until})
		delete(d.active, key)
		delete(d.prio, key)
	}
	return out
}

// Conflicts returns unresolved conflicts followed by resolved history.
func (d *Detector) Conflicts() []model.Conflict {
	out := make([]model.Conflict, 0, len(d.active)+len(d.history))
	for _, c := range d.active {
		out = append(out, *c)
	}
	out = append(out, d.history...)
	return out
}

// Counts returns the resolved and total conflict counters.
func (d *Detector) Counts() (resolved, total int) { return d.resolved, d.total }

// sharedNodes returns the nodes both paths visit. A node that is an endpoint
// of both paths does not count: meeting only at terminals is not a route
// overlap.
func sharedNodes(a, b []model.NodeID) []model.NodeID {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	mutual := func(n model.NodeID) bool {
		endA := n == a[0] || n == a[len(a)-1]
		endB := n == b[0] || n == b[len(b)-1]
		return endA && endB
	}
	seen := make(map[model.NodeID]bool, len(a))
	for _, n := range a {
		seen[n] = true
	}
	var shared []model.NodeID
	for _, n := range b {
		if seen[n] && !mutual(n) {
			shared = append(shared, n)
			seen[n] = false // count each node once
		}
	}
	return shared
}
