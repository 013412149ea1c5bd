package metrics

import "github.com/prometheus/client_golang/prometheus"

// LifecycleMetrics tracks subscription lifecycle outcomes.
type LifecycleMetrics struct {
	anomalies   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewLifecycleMetrics registers the lifecycle collectors on reg. A nil
// registerer yields a no-op recorder.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_subscription_anomalies_total",
		Help: "Data integrity anomalies found while deriving subscription state.",
	}, []string{"kind"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_subscription_transitions_total",
		Help: "Persisted subscription record transitions.",
	}, []string{"from", "to"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_subscription_rejections_total",
		Help: "Lifecycle requests rejected by validation.",
	}, []string{"code"})
	reg.MustRegister(anomalies, transitions, rejections)
	return &LifecycleMetrics{
		anomalies:   anomalies,
		transitions: transitions,
		rejections:  rejections,
	}
}

func (m *LifecycleMetrics) IncAnomaly(kind string) {
	if m == nil || m.anomalies == nil {
		return
	}
	m.anomalies.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncTransition counts a state change. from is empty for newly created records.
func (m *LifecycleMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	if from == "" {
		from = "NEW"
	}
	m.transitions.WithLabelValues(from, normalizeLabel(to)).Inc()
}

func (m *LifecycleMetrics) IncRejection(code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(code)).Inc()
}
