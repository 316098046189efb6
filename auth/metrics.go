package auth

import "github.com/prometheus/client_golang/prometheus"

const (
	refreshSuccess = "success"
	refreshFailure = "failure"
	// refreshSkipped counts waiters that found the session already refreshed.
	refreshSkipped = "skipped"
)

// Metrics counts demo fallbacks and token refreshes. A nil *Metrics records
// nothing.
type Metrics struct {
	demoFallbacks *prometheus.CounterVec
	tokenRefresh  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		demoFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_demo_fallbacks_total",
			Help: "Logins that fell back to the demo identity, by reason.",
		}, []string{"reason"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_refresh_total",
			Help: "Access token refresh attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.demoFallbacks, m.tokenRefresh)
	}
	return m
}

func (m *Metrics) observeFallback(reason FallbackReason) {
	if m == nil {
		return
	}
	m.demoFallbacks.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) observeRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefresh.WithLabelValues(result).Inc()
}

func (m *Metrics) DemoFallbacks() *prometheus.CounterVec { return m.demoFallbacks }
func (m *Metrics) TokenRefresh() *prometheus.CounterVec  { return m.tokenRefresh }
