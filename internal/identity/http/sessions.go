package http

import (
	"net/http"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/httpx"
)

// sessionView is the enumeration shape; token hashes never leave the store
// layer.
type sessionView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (rt *router) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := rt.deps.Sessions.ListActive(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	current := httpx.SessionIDFromContext(ctx)
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s, current))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (rt *router) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := rt.deps.Sessions.Revoke(ctx,
		httpx.UserIDFromContext(ctx),
		httpx.SessionIDFromContext(ctx),
		r.PathValue("id"),
	)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSessionView(s domain.Session, currentID string) sessionView {
	return sessionView{
		ID:        s.ID,
		Type:      string(s.Type),
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
		Current:   s.ID == currentID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
