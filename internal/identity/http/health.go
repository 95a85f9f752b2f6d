package http

import (
	"net/http"

	"github.com/lumehq/identity/pkg/httpx"
)

func (rt *router) handleLivez(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the durable store and the challenge cache; either one
// down means the instance cannot serve logins.
func (rt *router) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := rt.deps.Store.Ping(ctx); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	if err := rt.deps.Cache.Ping(ctx); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "cache unavailable"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
