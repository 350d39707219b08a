package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// maxBodyBytes bounds request bodies; transaction lists are the largest payload.
const maxBodyBytes = 4 << 20

// NewRouter creates the HTTP router with all routes and middleware.
// collaborators maps each external collaborator to whether it is configured;
// it drives /healthz.
func NewRouter(svc *service.Sentinel, collaborators map[string]bool, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(collaborators))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/workflow", workflowMetricsHandler(metrics))

		r.Group(func(r chi.Router) {
			r.Use(MaxBodySize(maxBodyBytes, logger))

			r.Post("/chat", chatHandler(svc, logger))
			r.Post("/transactions/analyze", analyzeHandler(svc, logger))
			r.Post("/transactions/query", queryHandler(svc, logger))
		})
	})

	return r
}

// ============================================================
// Metrics & Health
// ============================================================

// healthzHandler reports each collaborator as configured or missing. The
// service is degraded when the completion service is missing, since every
// non-query turn needs it.
func healthzHandler(collaborators map[string]bool) http.HandlerFunc {
	names := make([]string, 0, len(collaborators))
	for name := range collaborators {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{{Name: "sentinel-api", Status: "healthy", LastChecked: now}}
		overallStatus := "healthy"
		for _, name := range names {
			status := "configured"
			if !collaborators[name] {
				status = "missing"
				if name == "llm" {
					overallStatus = "degraded"
				}
			}
			services = append(services, domain.ServiceHealth{Name: name, Status: status, LastChecked: now})
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func workflowMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.WorkflowSnapshot())
	}
}
