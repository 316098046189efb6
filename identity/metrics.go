package identity

import "github.com/prometheus/client_golang/prometheus"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics counts calls made to the provider. A nil *Metrics records nothing.
type Metrics struct {
	discoveryFetches *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		discoveryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_discovery_fetches_total",
			Help: "Identity provider discovery document fetches by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.discoveryFetches)
	}
	return m
}

func (m *Metrics) observeDiscovery(result string) {
	if m == nil {
		return
	}
	m.discoveryFetches.WithLabelValues(result).Inc()
}

// DiscoveryFetches exposes the counter for tests and dashboards.
func (m *Metrics) DiscoveryFetches() *prometheus.CounterVec {
	return m.discoveryFetches
}
