// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/parking-sensor/internal/delivery"
	"github.com/sweeney/parking-sensor/internal/logic"
)

// Metrics records pipeline results. It implements dispatch.Reporter.
type Metrics struct {
	transitions      *prometheus.CounterVec
	occupied         *prometheus.GaugeVec
	deliveries       *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	dropped          *prometheus.CounterVec
	pipelineFailures *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_state_changes_total",
			Help: "Confirmed occupancy states by space and kind, baseline included.",
		}, []string{"spot", "kind"}),
		occupied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parking_space_occupied",
			Help: "Current debounced occupancy (1 occupied, 0 vacant).",
		}, []string{"spot"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_deliveries_total",
			Help: "Terminal delivery outcomes by space.",
		}, []string{"spot", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_delivery_attempts_total",
			Help: "Individual endpoint requests by space and classification.",
		}, []string{"spot", "result"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parking_delivery_duration_seconds",
			Help:    "Time from first attempt to terminal outcome.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_events_dropped_total",
			Help: "Events discarded before delivery by space and reason.",
		}, []string{"spot", "reason"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_pipeline_failures_total",
			Help: "Pipelines that stopped with an error.",
		}, []string{"spot"}),
	}

	reg.MustRegister(
		m.transitions,
		m.occupied,
		m.deliveries,
		m.attempts,
		m.deliveryDuration,
		m.dropped,
		m.pipelineFailures,
	)
	return m
}

// StateConfirmed counts the confirmed state and updates the occupancy gauge.
func (m *Metrics) StateConfirmed(in logic.MonitoredInput, kind logic.Kind, at time.Time) {
	m.transitions.WithLabelValues(in.Label, string(kind)).Inc()
	v := 0.0
	if kind == logic.KindOccupied {
		v = 1
	}
	m.occupied.WithLabelValues(in.Label).Set(v)
}

// EventDropped counts a dropped event by reason.
func (m *Metrics) EventDropped(in logic.MonitoredInput, ev logic.Event, reason string) {
	m.dropped.WithLabelValues(in.Label, reason).Inc()
}

// DeliveryFinished records the outcome, attempts and duration.
func (m *Metrics) DeliveryFinished(in logic.MonitoredInput, res delivery.Result) {
	m.deliveries.WithLabelValues(in.Label, res.Outcome.String()).Inc()
	for _, a := range res.Attempts {
		m.attempts.WithLabelValues(in.Label, string(a.Outcome)).Inc()
	}
	m.deliveryDuration.WithLabelValues(res.Outcome.String()).Observe(res.Elapsed.Seconds())
}

// PipelineStopped counts a pipeline failure.
func (m *Metrics) PipelineStopped(in logic.MonitoredInput, err error) {
	m.pipelineFailures.WithLabelValues(in.Label).Inc()
}
