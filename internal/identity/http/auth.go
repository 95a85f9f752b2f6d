package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/service"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/httpx"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

type authResponse struct {
	UserID string           `json:"user_id,omitempty"`
	Tokens domain.TokenPair `json:"tokens"`
}

func (rt *router) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	user, pair, err := rt.deps.Login.Signup(r.Context(), req.Email, req.Password, req.Name, clientIP(r), r.UserAgent())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	rt.setRefreshCookie(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusCreated, authResponse{UserID: user.ID, Tokens: sanitizePair(pair)})
}

func (rt *router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	user, pair, err := rt.deps.Login.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		var mfaErr *service.MFARequiredError
		if errors.As(err, &mfaErr) {
			// Password was correct; the client must now complete the
			// challenge. 202 keeps this distinct from both success and
			// failure.
			httpx.WriteJSON(w, http.StatusAccepted, mfaErr.Challenge)
			return
		}
		httpx.WriteError(w, err)
		return
	}

	rt.setRefreshCookie(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, authResponse{UserID: user.ID, Tokens: sanitizePair(pair)})
}

func (rt *router) handleRefresh(w http.ResponseWriter, r *http.Request) {
	pair, err := rt.deps.Sessions.Refresh(r.Context(), rt.refreshTokenFrom(r), clientIP(r), r.UserAgent())
	if err != nil {
		rt.clearRefreshCookie(w)
		httpx.WriteError(w, err)
		return
	}

	rt.setRefreshCookie(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, authResponse{Tokens: sanitizePair(pair)})
}

func (rt *router) handleRecover(w http.ResponseWriter, r *http.Request) {
	pair, err := rt.deps.Sessions.Recover(r.Context(), rt.refreshTokenFrom(r))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authResponse{Tokens: pair})
}

func (rt *router) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Sessions.Invalidate(r.Context(), httpx.SessionIDFromContext(r.Context())); err != nil {
		httpx.WriteError(w, err)
		return
	}
	rt.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Sessions.InvalidateAll(r.Context(), httpx.UserIDFromContext(r.Context())); err != nil {
		httpx.WriteError(w, err)
		return
	}
	rt.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := rt.deps.Login.VerifyEmail(r.Context(), httpx.UserIDFromContext(r.Context()), req.Code); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := rt.deps.Login.CompleteOnboarding(ctx, httpx.UserIDFromContext(ctx), httpx.SessionIDFromContext(ctx)); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sanitizePair strips the refresh token from responses once it has been set
// as a cookie.
func sanitizePair(pair domain.TokenPair) domain.TokenPair {
	pair.RefreshToken = ""
	return pair
}

// refreshTokenFrom prefers an explicit body field (non-browser clients) and
// falls back to the cookie.
func (rt *router) refreshTokenFrom(r *http.Request) string {
	var req refreshRequest
	if err := decodeJSON(r, &req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if c, err := r.Cookie(rt.cfg.CookieName); err == nil {
		return c.Value
	}
	return ""
}

func (rt *router) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	if refreshToken == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     rt.cfg.CookieName,
		Value:    refreshToken,
		Domain:   rt.cfg.CookieDomain,
		Path:     "/v1/auth",
		Expires:  time.Now().Add(rt.cfg.CookieTTL),
		HttpOnly: true,
		Secure:   rt.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (rt *router) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     rt.cfg.CookieName,
		Value:    "",
		Domain:   rt.cfg.CookieDomain,
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   rt.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// decodeJSON reads a JSON body, translating malformed input to BadRequest.
// An empty body decodes to the zero value so optional-body endpoints work.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.BadRequest("Malformed request body.")
	}
	return nil
}

func clientIP(r *http.Request) string {
	return httpx.IPKeyExtractor(r)
}
