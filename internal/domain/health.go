package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the configuration state of one collaborator.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"` // configured, missing
	LastChecked string `json:"lastChecked"`
}

// WorkflowMetrics is returned by GET /v1/metrics/workflow.
type WorkflowMetrics struct {
	TotalRequests       int64              `json:"totalRequests"`
	ErrorRate           float64            `json:"errorRate"`
	NodeExecutions      map[string]float64 `json:"nodeExecutions"`
	Intents             map[string]float64 `json:"intents"`
	IssuesByKind        map[string]float64 `json:"issuesByKind"`
	AvgTokensPerRequest float64            `json:"avgTokensPerRequest"`
	CacheHitRate        float64            `json:"cacheHitRate"`
	Period              string             `json:"period"`
}
