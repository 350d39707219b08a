package handler

import (
	"net/http"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// POST /v1/chat
// ============================================================

func chatHandler(svc *service.Sentinel, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat")
		defer span.End()

		var req domain.ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ConversationID != "" {
			span.SetAttributes(attribute.String("conversation.id", req.ConversationID))
		}

		resp, err := svc.Chat(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// POST /v1/transactions/analyze
// ============================================================

func analyzeHandler(svc *service.Sentinel, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/analyze")
		defer span.End()

		var req domain.AnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.Int("transactions.count", len(req.Transactions)))

		resp, err := svc.Analyze(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// POST /v1/transactions/query
// ============================================================

func queryHandler(svc *service.Sentinel, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/query")
		defer span.End()

		var req domain.QueryRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.Query(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
