package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/agvflow/agvflow/core/model"
)

// TickSource produces the periodic signals driving a loop. Production code
// uses the wall clock; tests step the engine directly through Tick and
// ChargeTick instead of waiting on timers.
type TickSource interface {
	Ticks() <-chan time.Time
	Stop()
}

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) Ticks() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()                   { w.t.Stop() }

// NewWallTicker returns a TickSource backed by time.Ticker.
func NewWallTicker(d time.Duration) TickSource { return wallTicker{t: time.NewTicker(d)} }

// AutoTaskConfig controls the optional periodic task generator.
type AutoTaskConfig struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"-"`
	Seed     int64         `json:"seed"`
}

// Start launches the periodic processes: the movement tick, the charging
// cycle and, when enabled, the auto-task generator. All loops share one stop
// channel; Stop halts them atomically.
func (e *Engine) Start(ctx context.Context, auto AutoTaskConfig) error {
	return e.start(ctx, auto, NewWallTicker)
}

// StartWithTicker is Start with an injectable tick source factory.
func (e *Engine) StartWithTicker(ctx context.Context, auto AutoTaskConfig, newTicker func(time.Duration) TickSource) error {
	return e.start(ctx, auto, newTicker)
}

func (e *Engine) start(ctx context.Context, auto AutoTaskConfig, newTicker func(time.Duration) TickSource) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	e.loop(ctx, stop, newTicker(e.cfg.TickInterval), e.Tick)
	e.loop(ctx, stop, newTicker(e.cfg.ChargeInterval), e.ChargeTick)
	if auto.Enabled {
		interval := auto.Interval
		if interval <= 0 {
			interval = 10 * e.cfg.TickInterval
		}
		seed := auto.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		e.loop(ctx, stop, newTicker(interval), func() { e.autoTask(rng) })
	}
	return nil
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}, ticker TickSource, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.Ticks():
				fn()
			}
		}
	}()
}

// Stop halts every periodic process and waits for in-flight work to drain.
// Reservations are tick-scoped, so after the last tick returns every vehicle
// rests at a graph-valid node.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()
	e.wg.Wait()
}

// autoTask submits one randomly generated valid transport request.
func (e *Engine) autoTask(rng *rand.Rand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.gr.NodeCount()
	if n < 2 {
		return
	}
	src := model.NodeID(rng.Intn(n) + 1)
	dst := model.NodeID(rng.Intn(n) + 1)
	for dst == src {
		dst = model.NodeID(rng.Intn(n) + 1)
	}
	priorities := []model.Priority{model.PriorityHigh, model.PriorityMedium, model.PriorityLow}
	spec := TaskSpec{
		Source:      src,
		Destination: dst,
		Weight:      1 + rng.Float64()*99,
		Priority:    priorities[rng.Intn(len(priorities))],
	}
	if _, err := e.submitLocked(spec); err != nil {
		e.log.Errorf("auto task: %v", err)
	}
}
