package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID      ctxKey = "user_id"
	CtxKeySessionID   ctxKey = "session_id"
	CtxKeySessionType ctxKey = "session_type"
	CtxKeyAccessToken ctxKey = "access_token"
)

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext returns the authenticated session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySessionID).(string); ok {
		return v
	}
	return ""
}

// AccessTokenFromContext returns the raw bearer token of the request, or "".
func AccessTokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyAccessToken).(string); ok {
		return v
	}
	return ""
}
