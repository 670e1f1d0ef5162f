package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

const namespace = "referral"

// IntakeMetrics instruments the intake orchestrator and the NATS worker.
type IntakeMetrics struct {
	service  string
	registry *prometheus.Registry

	itemsTotal         *prometheus.CounterVec
	itemDuration       *prometheus.HistogramVec
	itemsInFlight      prometheus.Gauge
	extractionsTotal   *prometheus.CounterVec
	verificationsTotal *prometheus.CounterVec
	modelTokensTotal   *prometheus.CounterVec
	cyclesTotal        *prometheus.CounterVec
}

func NewIntakeMetrics(service string) *IntakeMetrics {
	registry := prometheus.NewRegistry()

	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "items_total",
			Help:      "Source items that reached a terminal state, by outcome.",
		},
		[]string{"service", "outcome"},
	)
	itemDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "item_duration_seconds",
			Help:      "Per-item processing duration in seconds by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	itemsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "items_in_flight",
			Help:      "Number of source items being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	extractionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Extraction runs by method.",
		},
		[]string{"service", "method"},
	)
	verificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "verifications_total",
			Help:      "Verifier decisions (skipped, adopted, kept, failed).",
		},
		[]string{"service", "decision"},
	)
	modelTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Model token usage by direction.",
		},
		[]string{"service", "method", "direction"},
	)
	cyclesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "cycles_total",
			Help:      "Polling cycles by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		itemsTotal,
		itemDuration,
		itemsInFlight,
		extractionsTotal,
		verificationsTotal,
		modelTokensTotal,
		cyclesTotal,
	)

	return &IntakeMetrics{
		service:            service,
		registry:           registry,
		itemsTotal:         itemsTotal,
		itemDuration:       itemDuration,
		itemsInFlight:      itemsInFlight,
		extractionsTotal:   extractionsTotal,
		verificationsTotal: verificationsTotal,
		modelTokensTotal:   modelTokensTotal,
		cyclesTotal:        cyclesTotal,
	}
}

func (m *IntakeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IntakeMetrics) StartItem() {
	m.itemsInFlight.Inc()
}

func (m *IntakeMetrics) FinishItem(outcome domain.IntakeOutcome, duration time.Duration) {
	m.itemsInFlight.Dec()
	m.itemDuration.WithLabelValues(m.service, outcomeLabel(outcome)).Observe(duration.Seconds())
}

func (m *IntakeMetrics) ObserveOutcome(outcome domain.IntakeOutcome) {
	m.itemsTotal.WithLabelValues(m.service, outcomeLabel(outcome)).Inc()
}

func (m *IntakeMetrics) ObserveExtraction(method domain.ExtractionMethod, tokens *domain.TokenUsage) {
	label := string(method)
	if label == "" {
		label = "unknown"
	}
	m.extractionsTotal.WithLabelValues(m.service, label).Inc()
	if tokens == nil {
		return
	}
	if tokens.Input > 0 {
		m.modelTokensTotal.WithLabelValues(m.service, label, "in").Add(float64(tokens.Input))
	}
	if tokens.Output > 0 {
		m.modelTokensTotal.WithLabelValues(m.service, label, "out").Add(float64(tokens.Output))
	}
}

func (m *IntakeMetrics) ObserveVerification(decision string) {
	if decision == "" {
		decision = "unknown"
	}
	m.verificationsTotal.WithLabelValues(m.service, decision).Inc()
}

func (m *IntakeMetrics) ObserveCycle(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.cyclesTotal.WithLabelValues(m.service, status).Inc()
}

func outcomeLabel(outcome domain.IntakeOutcome) string {
	if outcome == "" {
		return "unknown"
	}
	return string(outcome)
}
