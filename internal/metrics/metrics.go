// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	AssessmentsTotal *prometheus.CounterVec
	RecordsTotal     *prometheus.CounterVec
	TunePassesTotal  *prometheus.CounterVec

	HeuristicWeight prometheus.Gauge
	MLWeight        prometheus.Gauge
	OutcomeRows     prometheus.Gauge
}

// New registers and returns the engine collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		AssessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiator_assessments_total",
			Help: "Deployment assessments by result status.",
		}, []string{"status"}),
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiator_outcome_records_total",
			Help: "Outcome record attempts by result status.",
		}, []string{"status"}),
		TunePassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiator_tune_passes_total",
			Help: "Weight tuning passes by result status.",
		}, []string{"status"}),
		HeuristicWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "negotiator_ensemble_heuristic_weight",
			Help: "Current heuristic weight of the ensemble.",
		}),
		MLWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "negotiator_ensemble_ml_weight",
			Help: "Current ML weight of the ensemble.",
		}),
		OutcomeRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "negotiator_outcome_store_rows",
			Help: "Rows currently in the outcome store.",
		}),
	}

	registry.MustRegister(
		m.AssessmentsTotal,
		m.RecordsTotal,
		m.TunePassesTotal,
		m.HeuristicWeight,
		m.MLWeight,
		m.OutcomeRows,
	)

	return m
}

// SetWeights updates the weight gauges.
func (m *Metrics) SetWeights(heuristic, ml float64) {
	m.HeuristicWeight.Set(heuristic)
	m.MLWeight.Set(ml)
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
