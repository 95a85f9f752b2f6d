package http

import (
	"net/http"
	"strings"

	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/httpx"
)

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

func (rt *router) handleOAuthInitiate(w http.ResponseWriter, r *http.Request) {
	// link=1 binds the external identity to the authenticated caller
	// instead of resolving an account at callback time. The route itself
	// is anonymous, so the link variant checks the bearer token here.
	var linkUserID *string
	if r.URL.Query().Get("link") == "1" {
		token := bearerToken(r)
		claims, err := rt.deps.Verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, apperr.Unauthorized("Linking requires a valid access token."))
			return
		}
		if err := rt.deps.Sessions.CheckAccess(r.Context(), claims.SID, token); err != nil {
			httpx.WriteError(w, apperr.Unauthorized("Linking requires a valid access token."))
			return
		}
		linkUserID = &claims.Subject
	}

	url, err := rt.deps.OAuth.Initiate(r.Context(), r.PathValue("provider"), linkUserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (rt *router) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	// Most providers redirect back with query parameters; Apple posts a
	// form (response_mode=form_post). FormValue reads both.
	result, err := rt.deps.OAuth.HandleCallback(r.Context(),
		r.PathValue("provider"),
		r.FormValue("code"),
		r.FormValue("state"),
		r.FormValue("error"),
	)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if result.TokenPair != nil {
		rt.setRefreshCookie(w, result.TokenPair.RefreshToken)
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}
