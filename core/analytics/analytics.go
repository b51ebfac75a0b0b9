// Package analytics computes snapshot metrics over the current task and
// fleet state. Aggregation is a pure function: it reads copies and mutates
// nothing.
package analytics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/agvflow/agvflow/core/model"
)

// StrategyStats aggregates per-routing-strategy outcomes.
type StrategyStats struct {
	Completed  int     `json:"completed"`
	Efficiency float64 `json:"efficiency"` // mean of last route efficiencies
}

// Report is a point-in-time summary of fleet performance.
type Report struct {
	CompletedTasks         int                              `json:"completed_tasks"`
	FailedTasks            int                              `json:"failed_tasks"`
	MeanExecutionSeconds   float64                          `json:"mean_execution_seconds"`
	PerStrategy            map[model.Strategy]StrategyStats `json:"per_strategy"`
	ConflictResolutionRate float64                          `json:"conflict_resolution_rate"`
}

// Aggregate produces a Report from task and vehicle snapshots plus the
// conflict counters. resolvedConflicts/totalConflicts of 0/0 yields rate 0.
func Aggregate(tasks []model.Task, vehicles []model.Vehicle, resolvedConflicts, totalConflicts int) Report {
	r := Report{PerStrategy: make(map[model.Strategy]StrategyStats)}

	var execSeconds []float64
	for _, t := range tasks {
		if t.Charging {
			continue // synthetic charging legs are not transport work
		}
		switch t.Status {
		case model.TaskCompleted:
			r.CompletedTasks++
			if d := t.ExecutionTime(); d > 0 {
				execSeconds = append(execSeconds, d.Seconds())
			}
		case model.TaskFailed:
			r.FailedTasks++
		}
	}
	if len(execSeconds) > 0 {
		r.MeanExecutionSeconds = stat.Mean(execSeconds, nil)
	}

	effs := make(map[model.Strategy][]float64)
	for _, v := range vehicles {
		s := r.PerStrategy[v.Strategy]
		s.Completed += v.Completed
		r.PerStrategy[v.Strategy] = s
		if v.LastEfficiency > 0 {
			effs[v.Strategy] = append(effs[v.Strategy], v.LastEfficiency)
		}
	}
	for strat, xs := range effs {
		s := r.PerStrategy[strat]
		s.Efficiency = stat.Mean(xs, nil)
		r.PerStrategy[strat] = s
	}

	if totalConflicts > 0 {
		r.ConflictResolutionRate = float64(resolvedConflicts) / float64(totalConflicts)
	}
	return r
}
