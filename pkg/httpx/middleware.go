package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumehq/identity/pkg/jwtx"
)

type Middleware func(http.Handler) http.Handler

// Chain applies middlewares right-to-left so the first listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// TokenVerifier validates a compact access token into claims.
type TokenVerifier interface {
	Verify(token string) (jwtx.Claims, error)
}

// SessionChecker confirms a verified token still matches a live session row,
// so tokens outlived by a rotation or a logout stop authorizing.
type SessionChecker interface {
	CheckAccess(ctx context.Context, sessionID, accessToken string) error
}

// AuthnMiddleware verifies the bearer token's signature and expiry, checks it
// against the session store, and injects user id, session id, session type
// and the raw token into the request context.
func AuthnMiddleware(verifier TokenVerifier, checker SessionChecker, allowedTypes ...string) Middleware {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeUnauthorized(w, "Missing bearer token.")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				writeUnauthorized(w, "Invalid or expired access token.")
				return
			}

			if err := checker.CheckAccess(r.Context(), claims.SID, raw); err != nil {
				writeUnauthorized(w, "Access token is no longer valid.")
				return
			}

			if len(allowed) > 0 {
				if _, ok := allowed[claims.SessionType]; !ok {
					writeUnauthorized(w, "Session type not permitted for this endpoint.")
					return
				}
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, CtxKeyUserID, claims.Subject)
			ctx = context.WithValue(ctx, CtxKeySessionID, claims.SID)
			ctx = context.WithValue(ctx, CtxKeySessionType, claims.SessionType)
			ctx = context.WithValue(ctx, CtxKeyAccessToken, raw)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="identity"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "UNAUTHORIZED",
		"error_description": desc,
	})
}
