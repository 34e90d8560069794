package llm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status is the derived health of a provider.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	// unhealthyAfter consecutive failures a provider stops being selected
	// until a probe or manual success brings it back.
	unhealthyAfter = 3

	// latencyWindow is the number of rolling latency samples kept.
	latencyWindow = 32
)

// ProviderMetrics tracks call outcomes for one provider. Only the failover
// manager mutates it, after each call attempt; selection logic and
// diagnostics read it.
type ProviderMetrics struct {
	mu                  sync.Mutex
	total               int
	success             int
	failed              int
	consecutiveFailures int
	lastError           string
	latencies           []time.Duration
	status              Status
}

// NewProviderMetrics returns metrics in the Unknown state.
func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{status: StatusUnknown}
}

// RecordSuccess notes a successful call and its latency. Success resets
// the consecutive-failure count and restores the provider to Healthy.
func (m *ProviderMetrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.success++
	m.consecutiveFailures = 0
	m.lastError = ""
	m.status = StatusHealthy
	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > latencyWindow {
		m.latencies = m.latencies[len(m.latencies)-latencyWindow:]
	}
}

// RecordFailure notes a failed call with a normalized error category.
func (m *ProviderMetrics) RecordFailure(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.failed++
	m.consecutiveFailures++
	m.lastError = category
	if m.consecutiveFailures >= unhealthyAfter {
		m.status = StatusUnhealthy
	} else {
		m.status = StatusDegraded
	}
}

// Status returns the provider's derived health.
func (m *ProviderMetrics) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot is a point-in-time copy of the metrics for diagnostics.
type Snapshot struct {
	Total               int
	Success             int
	Failed              int
	ConsecutiveFailures int
	LastError           string
	AvgLatency          time.Duration
	Status              Status
}

// Snapshot returns a copy of the current counters.
func (m *ProviderMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var avg time.Duration
	if len(m.latencies) > 0 {
		var sum time.Duration
		for _, l := range m.latencies {
			sum += l
		}
		avg = sum / time.Duration(len(m.latencies))
	}
	return Snapshot{
		Total:               m.total,
		Success:             m.success,
		Failed:              m.failed,
		ConsecutiveFailures: m.consecutiveFailures,
		LastError:           m.lastError,
		AvgLatency:          avg,
		Status:              m.status,
	}
}

// Instrumentation exports provider call outcomes to Prometheus. It is
// constructed explicitly with a registerer and injected into the failover
// manager; there is no package-level registry.
type Instrumentation struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewInstrumentation registers the provider metrics with reg. A nil
// registerer yields a private registry, which keeps tests isolated.
func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	i := &Instrumentation{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider call attempts by outcome.",
		}, []string{"provider", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	reg.MustRegister(i.requests, i.latency)
	return i
}

func (i *Instrumentation) observeSuccess(provider string, latency time.Duration) {
	i.requests.WithLabelValues(provider, "success").Inc()
	i.latency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (i *Instrumentation) observeFailure(provider string) {
	i.requests.WithLabelValues(provider, "failure").Inc()
}
