package http

import (
	"net/http"
	"time"

	"github.com/asoos/integration-gateway/pkg/httpx"
)

func (r *Router) registerSystem() {
	r.Mux.HandleFunc("GET /livez", r.handleLivez)
	r.Mux.HandleFunc("GET /readyz", r.handleReadyz)
	r.Mux.Handle("GET /metrics", r.metrics.Handler())
}

func (r *Router) handleLivez(w http.ResponseWriter, req *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": r.buildVersion,
		"uptime":  time.Since(r.startTime).Round(time.Second).String(),
	})
}

// handleReadyz reports ready once the store answers and at least one
// signing key is loaded.
func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Ping(req.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "store unreachable",
		})
		return
	}
	if !r.keys.IsReady() {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "no signing keys loaded",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
