package handler

import (
	"net/http"

	"go.uber.org/zap"
)

// MaxBodySize caps request bodies at limit bytes. Decoding a larger body
// fails with *http.MaxBytesError, which decodeBody maps to 413.
func MaxBodySize(limit int64, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				logger.Warn("request body too large",
					zap.String("path", r.URL.Path),
					zap.Int64("content_length", r.ContentLength),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
