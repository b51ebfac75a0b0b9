// Package app wires the configuration into a runnable fleet service.
package app

import (
	"context"
	"fmt"

	"github.com/agvflow/agvflow/config"
	"github.com/agvflow/agvflow/core/engine"
	"github.com/agvflow/agvflow/core/events"
	"github.com/agvflow/agvflow/infra/logger"
	"github.com/agvflow/agvflow/infra/metrics"
)

// Service owns the engine and its observability plumbing.
type Service struct {
	Engine *engine.Engine

	cfg  *config.Config
	auto engine.AutoTaskConfig
	log  logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	g, err := cfg.Topology.Build()
	if err != nil {
		return nil, fmt.Errorf("build topology: %w", err)
	}
	eng, err := engine.New(g, cfg.Engine.ToEngine(), cfg.Fleet, logger.New("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		eng.SetMetricsSink(sink)
	}
	return &Service{Engine: eng, cfg: cfg, auto: cfg.AutoTasks.ToEngine(), log: logg}, nil
}

// Run starts the periodic processes and blocks until the context is
// canceled. Events are drained to the log so the stream never backs up.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	sub := s.Engine.Events()
	go func() {
		for ev := range sub {
			s.logEvent(ev)
		}
	}()

	if err := s.Engine.Start(ctx, s.auto); err != nil {
		return err
	}
	<-ctx.Done()
	s.Engine.Stop()
	s.Engine.Unsubscribe(sub)
	return nil
}

func (s *Service) logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskCreated:
		s.log.Debugf("event: task %s created", e.Task.ID)
	case events.TaskAssigned:
		s.log.Debugf("event: task %s assigned to vehicle %d", e.TaskID, e.VehicleID)
	case events.VehicleMoved:
		s.log.Debugf("event: vehicle %d moved %d -> %d", e.VehicleID, e.From, e.To)
	case events.VehicleWaiting:
		s.log.Debugf("event: vehicle %d waiting on node %d", e.VehicleID, e.Node)
	case events.TaskCompleted:
		s.log.Infof("event: task %s completed by vehicle %d", e.TaskID, e.VehicleID)
	case events.TaskFailed:
		s.log.Warnf("event: task %s failed on vehicle %d: %s", e.TaskID, e.VehicleID, e.Reason)
	case events.ChargingStarted:
		s.log.Infof("event: vehicle %d charging (battery %d)", e.VehicleID, e.Battery)
	case events.ChargingProgress:
		s.log.Debugf("event: vehicle %d charge cycle (battery %d)", e.VehicleID, e.Battery)
	case events.ChargingComplete:
		s.log.Infof("event: vehicle %d fully charged", e.VehicleID)
	case events.ConflictsResolved:
		s.log.Infof("event: %d conflicts resolved", e.Count)
	}
}
