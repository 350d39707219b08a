package observability

import (
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sentinel.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	nodeExecutions  *prometheus.CounterVec
	intents         *prometheus.CounterVec
	issuesDetected  *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. A private registry lets tests call NewMetrics
// repeatedly without "duplicate collector" panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_external_errors_total",
				Help: "Total errors from external collaborators.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_requests_total",
				Help: "Total chat requests processed.",
			},
			[]string{"status"},
		),
		nodeExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_workflow_node_executions_total",
				Help: "Workflow node executions.",
			},
			[]string{"node"},
		),
		intents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_intents_total",
				Help: "Resolved intents.",
			},
			[]string{"intent"},
		),
		issuesDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_issues_detected_total",
				Help: "Issues detected by kind.",
			},
			[]string{"kind"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// IncrNode counts one execution of a workflow node.
func (m *Metrics) IncrNode(node string) {
	m.nodeExecutions.WithLabelValues(node).Inc()
}

// IncrIntent counts one resolved intent.
func (m *Metrics) IncrIntent(intent domain.Intent) {
	m.intents.WithLabelValues(string(intent)).Inc()
}

// RecordIssues counts detected issues by kind.
func (m *Metrics) RecordIssues(issues []domain.Issue) {
	for _, is := range issues {
		m.issuesDetected.WithLabelValues(string(is.Kind)).Inc()
	}
}

// WorkflowSnapshot returns the cumulative workflow metrics for
// GET /v1/metrics/workflow.
func (m *Metrics) WorkflowSnapshot() *domain.WorkflowMetrics {
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	successCount := getCounterValue(m.requestsTotal, "success")
	errorCount := getCounterValue(m.requestsTotal, "error")
	totalRequests := successCount + errorCount

	hits := sumCounters(m.cacheHits)
	misses := sumCounters(m.cacheMisses)

	snap := &domain.WorkflowMetrics{
		TotalRequests:  int64(totalRequests),
		NodeExecutions: counterValues(m.nodeExecutions, "node"),
		Intents:        counterValues(m.intents, "intent"),
		IssuesByKind:   counterValues(m.issuesDetected, "kind"),
		Period:         "all_time",
	}
	if totalRequests > 0 {
		snap.AvgTokensPerRequest = (promptTokens + completionTokens) / totalRequests
		snap.ErrorRate = errorCount / totalRequests
	}
	if hits+misses > 0 {
		snap.CacheHitRate = hits / (hits + misses)
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// counterValues collects every child of a single-label CounterVec.
func counterValues(cv *prometheus.CounterVec, labelName string) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName {
				out[lp.GetValue()] = m.Counter.GetValue()
			}
		}
	}
	return out
}

func sumCounters(cv *prometheus.CounterVec) float64 {
	total := 0.0
	for _, v := range counterValues(cv, "cache") {
		total += v
	}
	return total
}
