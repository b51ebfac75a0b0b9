package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/agvflow/agvflow/core/metrics"
)

// PromSink records engine activity in Prometheus metrics.
type PromSink struct {
	moves       *prometheus.CounterVec
	waits       *prometheus.CounterVec
	completions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	battery     *prometheus.GaugeVec
	charges     *prometheus.CounterVec
}

// NewPromSink registers fleet metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	moves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_moves_total",
		Help: "Total number of admitted vehicle steps",
	}, []string{"vehicle_id", "charging"})
	waits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_waits_total",
		Help: "Total number of one-tick collision waits",
	}, []string{"vehicle_id"})
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_tasks_completed_total",
		Help: "Total number of completed transport tasks",
	}, []string{"vehicle_id", "strategy"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_task_duration_seconds",
		Help:    "Execution time of completed transport tasks",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})
	battery := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_battery_level",
		Help: "Current battery level per vehicle",
	}, []string{"vehicle_id"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_charge_cycles_total",
		Help: "Total number of charge cycles applied",
	}, []string{"vehicle_id"})

	s := &PromSink{moves: moves, waits: waits, completions: completions, duration: duration, battery: battery, charges: charges}
	for _, c := range []prometheus.Collector{moves, waits, completions, duration, battery, charges} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return s, nil
}

// RecordMove increments the step counter and updates the battery gauge.
func (s *PromSink) RecordMove(ev coremetrics.MoveEvent) error {
	id := strconv.Itoa(ev.VehicleID)
	s.moves.WithLabelValues(id, strconv.FormatBool(ev.Charging)).Inc()
	s.battery.WithLabelValues(id).Set(float64(ev.Battery))
	return nil
}

// RecordWait increments the collision-wait counter.
func (s *PromSink) RecordWait(ev coremetrics.WaitEvent) error {
	s.waits.WithLabelValues(strconv.Itoa(ev.VehicleID)).Inc()
	return nil
}

// RecordCompletion increments the completion counter and observes duration.
func (s *PromSink) RecordCompletion(ev coremetrics.CompletionEvent) error {
	s.completions.WithLabelValues(strconv.Itoa(ev.VehicleID), string(ev.Strategy)).Inc()
	s.duration.WithLabelValues(string(ev.Strategy)).Observe(ev.Duration.Seconds())
	return nil
}

// RecordCharge increments the charge-cycle counter and updates the gauge.
func (s *PromSink) RecordCharge(ev coremetrics.ChargeEvent) error {
	id := strconv.Itoa(ev.VehicleID)
	s.charges.WithLabelValues(id).Inc()
	s.battery.WithLabelValues(id).Set(float64(ev.Battery))
	return nil
}
