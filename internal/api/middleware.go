package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	headerAPIKey  = "x-api-key"
	headerAgentID = "x-agent-id"
)

// RequireAPIKey guards an endpoint with the shared-secret header. A missing
// or wrong key gets a 401 envelope and the chain stops.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(headerAPIKey)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				fail(w, http.StatusUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// agentID extracts the caller's agent id header; empty when absent.
func agentID(r *http.Request) string {
	return r.Header.Get(headerAgentID)
}

// RequestLogger logs every request with method, path, status and size using
// the provided zap logger. middleware.RequestID is expected to run first.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("agent_id", agentID(r)),
			)
		})
	}
}
