package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged, never returned.
type PrometheusSink struct {
	signatureChecks *prometheus.CounterVec
	eventsReceived  *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	failures        *prometheus.CounterVec
	largeAttachment prometheus.Counter
	duration        prometheus.Histogram
}

// NewPrometheusSink creates the receiver collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		signatureChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venhook_signature_checks_total",
			Help: "Webhook authentication checks by route and outcome.",
		}, []string{"route", "outcome"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venhook_events_received_total",
			Help: "Accepted webhook events by payload kind.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venhook_events_duplicate_total",
			Help: "Redelivered webhook events suppressed by the dedup filter.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venhook_processing_failures_total",
			Help: "Event processing failures by stage.",
		}, []string{"stage"}),
		largeAttachment: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venhook_large_attachment_events_total",
			Help: "Events carrying at least one attachment above the configured threshold.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "venhook_processing_duration_seconds",
			Help:    "Time spent processing one webhook event.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	register(reg, s.signatureChecks, "venhook_signature_checks_total")
	register(reg, s.eventsReceived, "venhook_events_received_total")
	register(reg, s.duplicates, "venhook_events_duplicate_total")
	register(reg, s.failures, "venhook_processing_failures_total")
	register(reg, s.largeAttachment, "venhook_large_attachment_events_total")
	register(reg, s.duration, "venhook_processing_duration_seconds")
	return s
}

func register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		slog.Warn("metrics: failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) SignatureChecked(route, outcome string) {
	s.signatureChecks.WithLabelValues(route, outcome).Inc()
}

func (s *PrometheusSink) EventReceived(kind string) {
	s.eventsReceived.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) DuplicateSuppressed(kind string) {
	s.duplicates.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) ProcessingFailed(stage string) {
	s.failures.WithLabelValues(stage).Inc()
}

func (s *PrometheusSink) LargeAttachment() {
	s.largeAttachment.Inc()
}

func (s *PrometheusSink) ProcessingDuration(d time.Duration) {
	s.duration.Observe(d.Seconds())
}
