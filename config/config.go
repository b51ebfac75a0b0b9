// Package config loads the service configuration from JSON or YAML files
// with optional environment overrides. Fleet size, per-vehicle strategies
// and the topology are configuration, not code.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/agvflow/agvflow/core/engine"
	"github.com/agvflow/agvflow/core/graph"
	"github.com/agvflow/agvflow/core/model"
)

// TopologyConfig describes the startup node graph.
type TopologyConfig struct {
	Rows         int          `json:"rows"`
	Cols         int          `json:"cols"`
	RemovedEdges []graph.Edge `json:"removed_edges"`
}

// SetDefaults applies the standard demo grid.
func (c *TopologyConfig) SetDefaults() {
	if c.Rows == 0 {
		c.Rows = 3
	}
	if c.Cols == 0 {
		c.Cols = 3
	}
}

// Validate checks the grid dimensions.
func (c TopologyConfig) Validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("topology dimensions must be positive, got %dx%d", c.Rows, c.Cols)
	}
	return nil
}

// Build constructs the topology graph.
func (c TopologyConfig) Build() (*graph.Graph, error) {
	return graph.NewGrid(c.Rows, c.Cols, c.RemovedEdges)
}

// EngineConfig carries the scheduler tuning in file-friendly units.
type EngineConfig struct {
	ChargingNode         int `json:"charging_node"`
	LowBatteryThreshold  int `json:"low_battery_threshold"`
	ChargeIncrement      int `json:"charge_increment"`
	MoveDrain            int `json:"move_drain"`
	ChargeRouteDrain     int `json:"charge_route_drain"`
	TickIntervalMS       int `json:"tick_interval_ms"`
	ChargeIntervalMS     int `json:"charge_interval_ms"`
	SlotToleranceSeconds int `json:"slot_tolerance_seconds"`
	ConflictDelayMinutes int `json:"conflict_delay_minutes"`
}

// SetDefaults applies the standard tuning.
func (c *EngineConfig) SetDefaults() {
	if c.ChargingNode == 0 {
		c.ChargingNode = 9
	}
	if c.TickIntervalMS == 0 {
		c.TickIntervalMS = 1000
	}
}

// ToEngine converts to the engine's runtime configuration.
func (c EngineConfig) ToEngine() engine.Config {
	return engine.Config{
		ChargingNode:        model.NodeID(c.ChargingNode),
		LowBatteryThreshold: c.LowBatteryThreshold,
		ChargeIncrement:     c.ChargeIncrement,
		MoveDrain:           c.MoveDrain,
		ChargeRouteDrain:    c.ChargeRouteDrain,
		TickInterval:        time.Duration(c.TickIntervalMS) * time.Millisecond,
		ChargeInterval:      time.Duration(c.ChargeIntervalMS) * time.Millisecond,
		SlotTolerance:       time.Duration(c.SlotToleranceSeconds) * time.Second,
		ConflictDelay:       time.Duration(c.ConflictDelayMinutes) * time.Minute,
	}
}

// AutoTasksConfig controls the periodic task generator.
type AutoTasksConfig struct {
	Enabled    bool  `json:"enabled"`
	IntervalMS int   `json:"interval_ms"`
	Seed       int64 `json:"seed"`
}

// ToEngine converts to the engine's generator configuration.
func (c AutoTasksConfig) ToEngine() engine.AutoTaskConfig {
	return engine.AutoTaskConfig{
		Enabled:  c.Enabled,
		Interval: time.Duration(c.IntervalMS) * time.Millisecond,
		Seed:     c.Seed,
	}
}

// MetricsConfig selects the observability sinks.
type MetricsConfig struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
}

// SetDefaults applies the standard exposition address.
func (c *MetricsConfig) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9090"
	}
}

// Config is the root configuration document.
type Config struct {
	Topology  TopologyConfig       `json:"topology"`
	Fleet     []engine.VehicleSpec `json:"fleet"`
	Engine    EngineConfig         `json:"engine"`
	AutoTasks AutoTasksConfig      `json:"auto_tasks"`
	Metrics   MetricsConfig        `json:"metrics"`
}

// Validate checks cross-section consistency.
func (c Config) Validate() error {
	if err := c.Topology.Validate(); err != nil {
		return err
	}
	if len(c.Fleet) == 0 {
		return fmt.Errorf("fleet must define at least one vehicle")
	}
	nodes := c.Topology.Rows * c.Topology.Cols
	if c.Engine.ChargingNode < 1 || c.Engine.ChargingNode > nodes {
		return fmt.Errorf("charging node %d out of range [1,%d]", c.Engine.ChargingNode, nodes)
	}
	seen := make(map[int]bool, len(c.Fleet))
	for _, v := range c.Fleet {
		if seen[v.ID] {
			return fmt.Errorf("duplicate vehicle id %d", v.ID)
		}
		seen[v.ID] = true
		if v.Start < 1 || int(v.Start) > nodes {
			return fmt.Errorf("vehicle %d start node %d out of range [1,%d]", v.ID, v.Start, nodes)
		}
	}
	return nil
}

// Load reads the configuration from path with optional environment
// overrides of the form AGV_section__key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// The callback rewrites AGV_section__key to section.key, so the provider
	// must unflatten on "." to land the value inside its section.
	if err := k.Load(env.Provider("AGV_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "agv_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Topology.SetDefaults()
	cfg.Engine.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
