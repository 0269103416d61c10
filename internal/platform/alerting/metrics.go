package alerting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

// Metrics exposes the state of the last alert evaluation.
type Metrics struct {
	// Alerts from the last evaluation by severity and condition kind
	ActiveAlerts *prometheus.GaugeVec

	// Lots evaluated in the last cycle
	LotsEvaluated prometheus.Gauge

	// Evaluation cycles by result ("ok", "error")
	Evaluations *prometheus.CounterVec

	EvaluateLatency prometheus.Histogram

	// Publish failures by publisher name
	PublishFailures *prometheus.CounterVec
}

// NewMetrics registers the alerting metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveAlerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nucmed_alerts_active",
			Help: "Alerts raised by the last evaluation by severity and kind",
		}, []string{"severity", "kind"}),

		LotsEvaluated: f.NewGauge(prometheus.GaugeOpts{
			Name: "nucmed_alert_lots_evaluated",
			Help: "Active lots evaluated in the last alert cycle",
		}),

		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nucmed_alert_evaluations_total",
			Help: "Alert evaluation cycles by result",
		}, []string{"result"}),

		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nucmed_alert_evaluate_duration_seconds",
			Help:    "Duration of an alert cycle including snapshot loading",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nucmed_alert_publish_failures_total",
			Help: "Failed alert publications by publisher",
		}, []string{"publisher"}),
	}
}

// ObserveCycle records a successful evaluation.
func (m *Metrics) ObserveCycle(lots int, alerts []radiopharm.Alert, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveAlerts.Reset()
	for _, a := range alerts {
		m.ActiveAlerts.WithLabelValues(string(a.Severity), string(a.Kind)).Inc()
	}
	m.LotsEvaluated.Set(float64(lots))
	m.Evaluations.WithLabelValues("ok").Inc()
	m.EvaluateLatency.Observe(d.Seconds())
}

// IncrementEvaluationError records a failed evaluation. The gauges keep the
// last successful values.
func (m *Metrics) IncrementEvaluationError() {
	if m != nil {
		m.Evaluations.WithLabelValues("error").Inc()
	}
}

// IncrementPublishFailure records a failed publication.
func (m *Metrics) IncrementPublishFailure(publisher string) {
	if m != nil {
		m.PublishFailures.WithLabelValues(publisher).Inc()
	}
}
