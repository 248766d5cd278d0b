// Package metrics holds the Prometheus instruments for service calls and the
// drain worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the call pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Calls by service identity and terminal status
	Calls *prometheus.CounterVec

	// Provider send attempts by service, including retries
	ProviderAttempts *prometheus.CounterVec

	// End-to-end call latency by service
	CallLatency *prometheus.HistogramVec

	// Drain outcomes: claimed, persisted, skipped, failed
	Drain *prometheus.CounterVec

	DrainCycleLatency prometheus.Histogram

	// Notification delivery failures by sink
	NotifyErrors *prometheus.CounterVec
}

// New creates the instruments and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simworks_service_calls_total",
			Help: "Service calls by service identity and terminal status",
		}, []string{"service", "status"}),

		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simworks_provider_attempts_total",
			Help: "Provider send attempts by service identity, including retries",
		}, []string{"service"}),

		CallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simworks_service_call_duration_seconds",
			Help:    "Duration of a service call from preparation to the terminal write",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service"}),

		Drain: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simworks_drain_records_total",
			Help: "Drain worker record outcomes",
		}, []string{"outcome"}), // outcome: "claimed", "persisted", "skipped", "failed"

		DrainCycleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "simworks_drain_cycle_duration_seconds",
			Help:    "Duration of one drain cycle including handler execution",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		NotifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simworks_notify_errors_total",
			Help: "Notification delivery failures by sink",
		}, []string{"sink"}),
	}
}

// ObserveCall records a finished call.
func (m *Metrics) ObserveCall(service, status string, d time.Duration) {
	if m != nil {
		m.Calls.WithLabelValues(service, status).Inc()
		m.CallLatency.WithLabelValues(service).Observe(d.Seconds())
	}
}

// IncrementProviderAttempt counts one provider send.
func (m *Metrics) IncrementProviderAttempt(service string) {
	if m != nil {
		m.ProviderAttempts.WithLabelValues(service).Inc()
	}
}

// AddDrain adds n records to a drain outcome.
func (m *Metrics) AddDrain(outcome string, n int) {
	if m != nil && n > 0 {
		m.Drain.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveDrainCycle records one drain cycle's duration.
func (m *Metrics) ObserveDrainCycle(d time.Duration) {
	if m != nil {
		m.DrainCycleLatency.Observe(d.Seconds())
	}
}

// IncrementNotifyError counts a failed delivery to sink.
func (m *Metrics) IncrementNotifyError(sink string) {
	if m != nil {
		m.NotifyErrors.WithLabelValues(sink).Inc()
	}
}
