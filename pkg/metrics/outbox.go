package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the outbox publisher loop.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	parked    *prometheus.CounterVec
	batch     prometheus.Gauge
	backlog   prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_outbox_published_total",
			Help: "Outbox events published to the broker.",
		}, []string{"event_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed.",
		}, []string{"event_type"}),
		parked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_outbox_parked_total",
			Help: "Outbox events that will not be retried.",
		}, []string{"reason"}),
		batch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backoffice_outbox_batch_size",
			Help: "Events claimed by the most recent publisher poll.",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backoffice_outbox_backlog",
			Help: "Deliverable events still waiting after the most recent poll.",
		}),
	}
	reg.MustRegister(m.published, m.failed, m.parked, m.batch, m.backlog)
	return m
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncParked(reason string) {
	if m == nil || m.parked == nil {
		return
	}
	m.parked.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) SetBatchSize(n int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Set(float64(n))
}

func (m *OutboxMetrics) SetBacklog(n int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(n))
}
