package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agvflow/agvflow/core/events"
	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/model"
	"github.com/agvflow/agvflow/infra/logger"
)

// testClock pins the engine to simulated time.
type testClock struct{ t time.Time }

func newTestClock() *testClock { return &testClock{t: time.Unix(1700000000, 0)} }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(t *testing.T, fleet []VehicleSpec, removed ...graph.Edge) (*Engine, *testClock) {
	t.Helper()
	g, err := graph.NewGrid(3, 3, removed)
	require.NoError(t, err)
	cfg := Config{ChargingNode: 9}
	eng, err := New(g, cfg, fleet, logger.NopLogger{})
	require.NoError(t, err)
	clock := newTestClock()
	eng.SetClock(clock.Now)
	return eng, clock
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func countEvents[T any](evs []events.Event) int {
	n := 0
	for _, e := range evs {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

func assertInjectiveOccupancy(t *testing.T, eng *Engine) {
	t.Helper()
	fleet, _ := eng.Snapshot()
	seen := make(map[model.NodeID]int)
	for _, v := range fleet {
		if other, taken := seen[v.Node]; taken {
			t.Fatalf("vehicles %d and %d share node %d", other, v.ID, v.Node)
		}
		seen[v.Node] = v.ID
	}
}

func TestGridScenarioFourHopDelivery(t *testing.T) {
	// 3x3 grid, edge 6-9 absent, vehicle at the task source.
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
	}, graph.Edge{A: 6, B: 9})
	sub := eng.Events()
	defer eng.Unsubscribe(sub)

	task, err := eng.SubmitTask(TaskSpec{Source: 1, Destination: 9, Weight: 10, Priority: model.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, model.TaskExecuting, task.Status, "pickup leg is trivial, execution starts at assignment")
	assert.Equal(t, []model.NodeID{1, 2, 5, 8, 9}, task.Path)

	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		eng.Tick()
		assertInjectiveOccupancy(t, eng)
	}

	fleet, tasks := eng.Snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskCompleted, tasks[0].Status)
	assert.Equal(t, 88, fleet[0].Battery, "4 hops at 3 points each")
	assert.Equal(t, model.NodeID(9), fleet[0].Node)
	assert.Equal(t, model.VehicleIdle, fleet[0].Status)
	assert.Equal(t, 1, fleet[0].Completed)
	assert.InDelta(t, 1.0, fleet[0].LastEfficiency, 1e-9, "manhattan distance equals path length")

	evs := drain(sub)
	assert.Equal(t, 1, countEvents[events.TaskCreated](evs))
	assert.Equal(t, 1, countEvents[events.TaskAssigned](evs))
	assert.Equal(t, 4, countEvents[events.VehicleMoved](evs))
	assert.Equal(t, 1, countEvents[events.TaskCompleted](evs))
	assert.Equal(t, 0, countEvents[events.VehicleWaiting](evs))
}

func TestCompletedPathIsValidWalk(t *testing.T) {
	g, err := graph.NewGrid(3, 3, []graph.Edge{{A: 6, B: 9}})
	require.NoError(t, err)
	eng, errNew := New(g, Config{ChargingNode: 9}, []VehicleSpec{
		{ID: 1, Start: 3, Battery: 100, Strategy: model.StrategyDijkstra},
	}, logger.NopLogger{})
	require.NoError(t, errNew)

	task, err := eng.SubmitTask(TaskSpec{Source: 1, Destination: 9, Priority: model.PriorityMedium})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		eng.Tick()
	}
	_, tasks := eng.Snapshot()
	require.Len(t, tasks, 1)
	require.Equal(t, model.TaskCompleted, tasks[0].Status)
	assert.True(t, g.ValidWalk(tasks[0].Path))
	assert.Equal(t, task.Source, tasks[0].Path[0])
	assert.Equal(t, task.Destination, tasks[0].Path[len(tasks[0].Path)-1])
}

func TestCrossingPathsWaitOneTick(t *testing.T) {
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 4, Battery: 100, Strategy: model.StrategyAStar},
		{ID: 2, Start: 2, Battery: 100, Strategy: model.StrategyAStar},
	})
	sub := eng.Events()
	defer eng.Unsubscribe(sub)

	_, err := eng.SubmitTask(TaskSpec{Source: 4, Destination: 6, Priority: model.PriorityMedium})
	require.NoError(t, err)
	_, err = eng.SubmitTask(TaskSpec{Source: 2, Destination: 8, Priority: model.PriorityMedium})
	require.NoError(t, err)

	// Both routes cross node 5 on the same tick; the lower ID advances.
	clock.Advance(time.Second)
	eng.Tick()
	assertInjectiveOccupancy(t, eng)
	fleet, _ := eng.Snapshot()
	assert.Equal(t, model.NodeID(5), fleet[0].Node)
	assert.Equal(t, model.NodeID(2), fleet[1].Node, "loser stays in place")

	evs := drain(sub)
	require.Equal(t, 1, countEvents[events.VehicleWaiting](evs))
	for _, e := range evs {
		if w, ok := e.(events.VehicleWaiting); ok {
			assert.Equal(t, 2, w.VehicleID)
			assert.Equal(t, model.NodeID(5), w.Node)
			assert.Equal(t, 1, w.BlockedBy)
		}
	}

	// Next tick the contested node is free again: no penalty carried.
	clock.Advance(time.Second)
	eng.Tick()
	assertInjectiveOccupancy(t, eng)
	fleet, _ = eng.Snapshot()
	assert.Equal(t, model.NodeID(6), fleet[0].Node)
	assert.Equal(t, model.NodeID(5), fleet[1].Node)
	assert.Equal(t, 0, countEvents[events.VehicleWaiting](drain(sub)))

	clock.Advance(time.Second)
	eng.Tick()
	_, tasks := eng.Snapshot()
	for _, task := range tasks {
		assert.Equal(t, model.TaskCompleted, task.Status)
	}
}

func TestChargingPipeline(t *testing.T) {
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 28, Strategy: model.StrategyAStar},
	})
	sub := eng.Events()
	defer eng.Unsubscribe(sub)

	// A transport task must be refused while the battery is low.
	_, err := eng.SubmitTask(TaskSpec{Source: 2, Destination: 3, Priority: model.PriorityHigh})
	require.NoError(t, err)
	_, tasks := eng.Snapshot()
	assert.Equal(t, model.TaskPending, tasks[0].Status)

	// First tick creates and assigns the synthetic charging task.
	clock.Advance(time.Second)
	eng.Tick()
	fleet, tasks := eng.Snapshot()
	assert.Equal(t, model.VehicleChargingRoute, fleet[0].Status)
	require.Len(t, tasks, 2)
	charging := tasks[1]
	assert.True(t, charging.Charging)
	assert.Equal(t, model.NodeID(9), charging.Destination)
	assert.Equal(t, 1, charging.RequestedBy)

	// Drive to the charger: 4 hops at 1 point each on a charging route.
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		eng.Tick()
	}
	fleet, tasks = eng.Snapshot()
	assert.Equal(t, model.NodeID(9), fleet[0].Node)
	assert.Equal(t, model.VehicleCharging, fleet[0].Status)
	assert.Equal(t, 24, fleet[0].Battery)
	assert.Equal(t, model.TaskPending, tasks[0].Status, "no transport work before full charge")

	// Charge cycles: 24 -> 44 -> 64 -> 84 -> 100.
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		eng.ChargeTick()
		fleet, _ = eng.Snapshot()
		assert.LessOrEqual(t, fleet[0].Battery, 100)
	}
	fleet, _ = eng.Snapshot()
	assert.Equal(t, 100, fleet[0].Battery)
	assert.Equal(t, model.VehicleIdle, fleet[0].Status)

	// The pending transport task is picked up on the next tick.
	clock.Advance(time.Second)
	eng.Tick()
	_, tasks = eng.Snapshot()
	assert.Equal(t, model.TaskAssigned, tasks[0].Status)

	evs := drain(sub)
	assert.Equal(t, 1, countEvents[events.ChargingStarted](evs))
	assert.Equal(t, 4, countEvents[events.ChargingProgress](evs))
	assert.Equal(t, 1, countEvents[events.ChargingComplete](evs))
}

func TestChargingInPlace(t *testing.T) {
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 9, Battery: 30, Strategy: model.StrategyAStar},
	})
	clock.Advance(time.Second)
	eng.Tick()
	fleet, tasks := eng.Snapshot()
	assert.Equal(t, model.VehicleCharging, fleet[0].Status)
	assert.Empty(t, tasks, "no synthetic task needed at the charger")
}

func TestInvalidTaskSpecRejected(t *testing.T) {
	eng, _ := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
	})
	_, err := eng.SubmitTask(TaskSpec{Source: 5, Destination: 5})
	assert.ErrorIs(t, err, model.ErrInvalidTaskSpec)

	_, err = eng.SubmitTask(TaskSpec{Source: 0, Destination: 3})
	assert.ErrorIs(t, err, model.ErrInvalidTaskSpec)

	_, err = eng.SubmitTask(TaskSpec{Source: 1, Destination: 99})
	assert.ErrorIs(t, err, model.ErrInvalidTaskSpec)

	_, tasks := eng.Snapshot()
	assert.Empty(t, tasks, "rejected specs never enter the queue")
}

func TestSubmitBatchMixedValidity(t *testing.T) {
	eng, _ := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
	})
	created, err := eng.SubmitBatch([]TaskSpec{
		{Source: 1, Destination: 9, Priority: model.PriorityHigh},
		{Source: 4, Destination: 4},
		{Source: 2, Destination: 7, Priority: model.PriorityLow},
	})
	assert.Error(t, err)
	assert.Len(t, created, 2)
	_, tasks := eng.Snapshot()
	assert.Len(t, tasks, 2)
}

func TestUnroutableTaskStaysPending(t *testing.T) {
	// Node 9 is fully disconnected.
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
	}, graph.Edge{A: 6, B: 9}, graph.Edge{A: 8, B: 9})

	_, err := eng.SubmitTask(TaskSpec{Source: 1, Destination: 5, Priority: model.PriorityMedium})
	require.NoError(t, err)
	_, err = eng.SubmitTask(TaskSpec{Source: 2, Destination: 9, Priority: model.PriorityMedium})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		clock.Advance(time.Second)
		eng.Tick()
	}
	_, tasks := eng.Snapshot()
	var unroutable model.Task
	for _, task := range tasks {
		if task.Destination == 9 {
			unroutable = task
		}
	}
	assert.Equal(t, model.TaskPending, unroutable.Status, "no state change on NoPathFound")
	assert.Zero(t, unroutable.VehicleID)
}

func TestBatteryExhaustionFaultsVehicle(t *testing.T) {
	g, err := graph.NewGrid(7, 7, nil)
	require.NoError(t, err)
	eng, errNew := New(g, Config{ChargingNode: 25}, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 31, Strategy: model.StrategyAStar},
	}, logger.NopLogger{})
	require.NoError(t, errNew)
	sub := eng.Events()
	defer eng.Unsubscribe(sub)

	// 12 hops at 3 points each exceeds the 31-point battery.
	_, err = eng.SubmitTask(TaskSpec{Source: 1, Destination: 49, Priority: model.PriorityHigh})
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		eng.Tick()
	}
	fleet, tasks := eng.Snapshot()
	assert.Equal(t, model.VehicleFaulted, fleet[0].Status)
	assert.Equal(t, 0, fleet[0].Battery)
	assert.Equal(t, model.TaskFailed, tasks[0].Status)
	assert.GreaterOrEqual(t, countEvents[events.TaskFailed](drain(sub)), 1)
}

func TestAdvisoryConflictResolutionDelaysLowerPriority(t *testing.T) {
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
		{ID: 2, Start: 3, Battery: 100, Strategy: model.StrategyAStar},
	})
	sub := eng.Events()
	defer eng.Unsubscribe(sub)

	taskA, err := eng.SubmitTask(TaskSpec{Source: 1, Destination: 9, Priority: model.PriorityHigh})
	require.NoError(t, err)
	taskB, err := eng.SubmitTask(TaskSpec{Source: 3, Destination: 7, Priority: model.PriorityLow})
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{1, 2, 3, 6, 9}, taskA.Path)
	assert.Equal(t, []model.NodeID{3, 2, 1, 4, 7}, taskB.Path)

	// Paths 1-2-3-6-9 and 3-2-1-4-7 overlap on nodes 1, 2 and 3.
	clock.Advance(time.Second)
	eng.Tick()
	conflicts := eng.Conflicts()
	require.NotEmpty(t, conflicts)
	assert.False(t, conflicts[0].Resolved)
	assert.Equal(t, model.SeverityCritical, conflicts[0].Severity)

	resolved := eng.ResolveConflicts()
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, countEvents[events.ConflictsResolved](drain(sub)))
	assert.InDelta(t, 1.0, eng.Report().ConflictResolutionRate, 1e-9)

	// While the delay runs the victim rests on the winner's route, so both
	// vehicles hold position, and the resolved pair is not flagged again.
	before, _ := eng.Snapshot()
	clock.Advance(time.Second)
	eng.Tick()
	after, _ := eng.Snapshot()
	assert.Equal(t, before[0].Node, after[0].Node, "winner blocked by the resting victim")
	assert.Equal(t, before[1].Node, after[1].Node, "delayed vehicle holds")
	assert.InDelta(t, 1.0, eng.Report().ConflictResolutionRate, 1e-9, "no re-flag during the delay")

	// After the delay expires the held vehicle replans around the winner and
	// both tasks run to completion.
	clock.Advance(11 * time.Minute)
	var tasks []model.Task
	for i := 0; i < 8; i++ {
		clock.Advance(time.Second)
		eng.Tick()
		assertInjectiveOccupancy(t, eng)
		if _, tasks = eng.Snapshot(); tasks[0].Status == model.TaskCompleted && tasks[1].Status == model.TaskCompleted {
			break
		}
	}
	require.Equal(t, model.TaskCompleted, tasks[0].Status)
	require.Equal(t, model.TaskCompleted, tasks[1].Status)
	assert.Equal(t, []model.NodeID{3, 6, 5, 4, 7}, tasks[1].Path, "replanned around the winner's position")
	assert.True(t, eng.gr.ValidWalk(tasks[1].Path))

	fleet, _ := eng.Snapshot()
	assert.Equal(t, model.NodeID(9), fleet[0].Node)
	assert.Equal(t, model.NodeID(7), fleet[1].Node)
}

func TestReportAggregatesCompletion(t *testing.T) {
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
	}, graph.Edge{A: 6, B: 9})
	_, err := eng.SubmitTask(TaskSpec{Source: 1, Destination: 9, Priority: model.PriorityHigh})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		eng.Tick()
	}
	report := eng.Report()
	assert.Equal(t, 1, report.CompletedTasks)
	assert.Equal(t, 1, report.PerStrategy[model.StrategyAStar].Completed)
	assert.Greater(t, report.MeanExecutionSeconds, 0.0)
}

func TestNewRejectsInvalidFleet(t *testing.T) {
	g, err := graph.NewGrid(3, 3, nil)
	require.NoError(t, err)

	_, err = New(g, Config{ChargingNode: 9}, nil, logger.NopLogger{})
	assert.Error(t, err, "empty fleet")

	_, err = New(g, Config{ChargingNode: 42}, []VehicleSpec{{ID: 1, Start: 1}}, logger.NopLogger{})
	assert.Error(t, err, "charging node outside topology")

	_, err = New(g, Config{ChargingNode: 9}, []VehicleSpec{
		{ID: 1, Start: 5}, {ID: 2, Start: 5},
	}, logger.NopLogger{})
	assert.Error(t, err, "shared start node")

	_, err = New(g, Config{ChargingNode: 9}, []VehicleSpec{
		{ID: 1, Start: 1}, {ID: 1, Start: 2},
	}, logger.NopLogger{})
	assert.Error(t, err, "duplicate vehicle id")
}

func TestOccupancyInjectiveUnderLoad(t *testing.T) {
	eng, clock := newEngine(t, []VehicleSpec{
		{ID: 1, Start: 1, Battery: 100, Strategy: model.StrategyAStar},
		{ID: 2, Start: 3, Battery: 100, Strategy: model.StrategyDijkstra},
		{ID: 3, Start: 7, Battery: 100, Strategy: model.StrategyACO},
	})
	specs := []TaskSpec{
		{Source: 1, Destination: 9, Priority: model.PriorityHigh},
		{Source: 3, Destination: 7, Priority: model.PriorityMedium},
		{Source: 7, Destination: 3, Priority: model.PriorityLow},
		{Source: 2, Destination: 8, Priority: model.PriorityMedium},
	}
	_, err := eng.SubmitBatch(specs)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		clock.Advance(time.Second)
		eng.Tick()
		eng.ChargeTick()
		assertInjectiveOccupancy(t, eng)

		fleet, _ := eng.Snapshot()
		for _, v := range fleet {
			assert.GreaterOrEqual(t, v.Battery, 0)
			assert.LessOrEqual(t, v.Battery, 100)
		}
	}
	_, tasks := eng.Snapshot()
	for _, task := range tasks {
		if task.Status == model.TaskCompleted && !task.Charging {
			assert.GreaterOrEqual(t, len(task.Path), 2)
		}
	}
}
