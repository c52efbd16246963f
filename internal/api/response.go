// Package api implements the coordinator's HTTP API on a Chi router.
// All bodies are JSON in the envelope {"success": bool, ...}; errors are
// {"success": false, "error": "..."}. CORS is wide open (the dashboard is a
// browser consumer), and the mutating endpoints require the shared-secret
// x-api-key header. Agents identify themselves with x-agent-id.
package api

import (
	"encoding/json"
	"net/http"
)

// respond writes a success envelope with the given extra fields.
func respond(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// fail writes an error envelope.
func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes the request body into dst. Returns false and writes a
// 400 envelope if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
