package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/evcharger/core/metrics"
	"github.com/kilianp07/evcharger/core/model"
)

var phases = []model.Phase{model.PhaseShutdown, model.PhaseBooting, model.PhaseConnected, model.PhaseMaintenance}

var outletStates = []model.OutletState{model.OutletAvailable, model.OutletPreparing, model.OutletFaulted}

// PromSink exposes charger activity as Prometheus metrics.
type PromSink struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	phase      *prometheus.GaugeVec
	outlets    *prometheus.GaugeVec
}

// NewPromSink registers charger metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "charger_operations_total",
		Help: "Total number of OCPP operations sent by the charge point",
	}, []string{"identity", "action", "success"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "charger_operation_latency_seconds",
		Help:    "Time between sending an OCPP operation and its result",
		Buckets: prometheus.DefBuckets,
	}, []string{"identity", "action"})
	phase := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "charger_phase",
		Help: "Current lifecycle phase of the charge point (1 for the active phase)",
	}, []string{"identity", "phase"})
	outlets := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "charger_outlet_state",
		Help: "Current state of each outlet (1 for the active state)",
	}, []string{"identity", "outlet", "state"})

	var err error
	if ops, err = register(reg, ops); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if phase, err = register(reg, phase); err != nil {
		return nil, err
	}
	if outlets, err = register(reg, outlets); err != nil {
		return nil, err
	}
	return &PromSink{operations: ops, latency: latency, phase: phase, outlets: outlets}, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordMessage counts the operation and observes its latency.
func (s *PromSink) RecordMessage(ev coremetrics.MessageEvent) error {
	s.operations.WithLabelValues(ev.Identity, ev.Action, strconv.FormatBool(ev.Success())).Inc()
	s.latency.WithLabelValues(ev.Identity, ev.Action).Observe(ev.Latency.Seconds())
	return nil
}

// RecordTransition updates the phase and outlet gauges to the new state.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	st := ev.Transition.New
	for _, p := range phases {
		v := 0.0
		if p == st.Phase {
			v = 1
		}
		s.phase.WithLabelValues(ev.Identity, p.String()).Set(v)
	}
	for id, outlet := range st.Outlets {
		for _, candidate := range outletStates {
			v := 0.0
			if candidate == outlet {
				v = 1
			}
			s.outlets.WithLabelValues(ev.Identity, strconv.Itoa(id), candidate.String()).Set(v)
		}
	}
	return nil
}
