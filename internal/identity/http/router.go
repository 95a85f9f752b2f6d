// Package http exposes the identity core over REST. Handlers stay thin:
// decode, call the service, encode. Policy (rate limits, session-type
// gates) is applied here per route.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lumehq/identity/internal/identity/cache"
	"github.com/lumehq/identity/internal/identity/service"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/httpx"
)

// Config carries the transport-boundary settings: how refresh tokens are
// delivered to browsers.
type Config struct {
	CookieName   string
	CookieDomain string
	CookieSecure bool
	// CookieTTL matches the session lifetime so the cookie and the session
	// expire together.
	CookieTTL time.Duration
}

// Deps is everything the router wires together.
type Deps struct {
	Login      *service.LoginService
	Sessions   *service.SessionService
	MFA        *service.MFAService
	Challenges *service.ChallengeService
	OAuth      *service.OAuthService
	Reset      *service.ResetService
	Verifier   httpx.TokenVerifier
	Store      store.Store
	Cache      cache.Store
	Logger     *slog.Logger
}

type router struct {
	cfg  Config
	deps Deps
}

// NewRouter assembles the full route table.
func NewRouter(cfg Config, deps Deps) http.Handler {
	rt := &router{cfg: cfg, deps: deps}
	mux := http.NewServeMux()

	anySession := httpx.AuthnMiddleware(deps.Verifier, deps.Sessions)
	cloudOnly := httpx.AuthnMiddleware(deps.Verifier, deps.Sessions, "CLOUD")
	onboardingOrCloud := httpx.AuthnMiddleware(deps.Verifier, deps.Sessions, "ONBOARDING", "CLOUD")

	strictIP := httpx.RateLimitByIP(httpx.StrictLimit)
	moderateIP := httpx.RateLimitByIP(httpx.ModerateLimit)
	lenientIP := httpx.RateLimitByIP(httpx.LenientLimit)

	// Primary authentication.
	mux.Handle("POST /v1/auth/signup", httpx.Chain(http.HandlerFunc(rt.handleSignup), moderateIP))
	mux.Handle("POST /v1/auth/login", httpx.Chain(http.HandlerFunc(rt.handleLogin), strictIP))
	mux.Handle("POST /v1/auth/refresh", httpx.Chain(http.HandlerFunc(rt.handleRefresh), moderateIP))
	mux.Handle("POST /v1/auth/recover", httpx.Chain(http.HandlerFunc(rt.handleRecover), moderateIP))
	mux.Handle("POST /v1/auth/logout", httpx.Chain(http.HandlerFunc(rt.handleLogout), anySession))
	mux.Handle("POST /v1/auth/logout-all", httpx.Chain(http.HandlerFunc(rt.handleLogoutAll), anySession))
	mux.Handle("POST /v1/auth/verify-email", httpx.Chain(http.HandlerFunc(rt.handleVerifyEmail), onboardingOrCloud, moderateIP))
	mux.Handle("POST /v1/auth/onboarding", httpx.Chain(http.HandlerFunc(rt.handleCompleteOnboarding), onboardingOrCloud))

	// Session enumeration and revocation.
	mux.Handle("GET /v1/sessions", httpx.Chain(http.HandlerFunc(rt.handleListSessions), cloudOnly))
	mux.Handle("DELETE /v1/sessions/{id}", httpx.Chain(http.HandlerFunc(rt.handleRevokeSession), cloudOnly))

	// Second-factor enrollment (authenticated).
	mux.Handle("POST /v1/mfa/totp/enroll", httpx.Chain(http.HandlerFunc(rt.handleTOTPEnroll), cloudOnly))
	mux.Handle("POST /v1/mfa/totp/verify", httpx.Chain(http.HandlerFunc(rt.handleTOTPConfirm), cloudOnly, strictIP))
	mux.Handle("POST /v1/mfa/passkey/enroll", httpx.Chain(http.HandlerFunc(rt.handlePasskeyEnroll), cloudOnly))
	mux.Handle("POST /v1/mfa/passkey/verify", httpx.Chain(http.HandlerFunc(rt.handlePasskeyConfirm), cloudOnly, strictIP))
	mux.Handle("DELETE /v1/mfa", httpx.Chain(http.HandlerFunc(rt.handleDisableMFA), cloudOnly))
	mux.Handle("POST /v1/mfa/backup-codes", httpx.Chain(http.HandlerFunc(rt.handleRegenerateBackupCodes), cloudOnly))

	// Second-factor challenge (pre-session; the challenge id is the
	// credential).
	mux.Handle("POST /v1/mfa/challenge/totp", httpx.Chain(http.HandlerFunc(rt.handleChallengeTOTP), strictIP))
	mux.Handle("POST /v1/mfa/challenge/sms/send", httpx.Chain(http.HandlerFunc(rt.handleChallengeSMSSend), strictIP))
	mux.Handle("POST /v1/mfa/challenge/sms", httpx.Chain(http.HandlerFunc(rt.handleChallengeSMS), strictIP))
	mux.Handle("POST /v1/mfa/challenge/passkey/start", httpx.Chain(http.HandlerFunc(rt.handleChallengePasskeyStart), strictIP))
	mux.Handle("POST /v1/mfa/challenge/passkey", httpx.Chain(http.HandlerFunc(rt.handleChallengePasskey), strictIP))

	// External identity.
	mux.Handle("GET /v1/oauth/{provider}", httpx.Chain(http.HandlerFunc(rt.handleOAuthInitiate), lenientIP))
	mux.Handle("GET /v1/oauth/{provider}/callback", httpx.Chain(http.HandlerFunc(rt.handleOAuthCallback), lenientIP))
	// Apple delivers its callback as a form post.
	mux.Handle("POST /v1/oauth/{provider}/callback", httpx.Chain(http.HandlerFunc(rt.handleOAuthCallback), lenientIP))

	// Password reset.
	mux.Handle("POST /v1/password-reset/request", httpx.Chain(http.HandlerFunc(rt.handleResetRequest), strictIP))
	mux.Handle("POST /v1/password-reset/verify", httpx.Chain(http.HandlerFunc(rt.handleResetVerify), strictIP))
	mux.Handle("POST /v1/password-reset/confirm", httpx.Chain(http.HandlerFunc(rt.handleResetConfirm), strictIP))

	// Health.
	mux.HandleFunc("GET /livez", rt.handleLivez)
	mux.HandleFunc("GET /readyz", rt.handleReadyz)

	return mux
}
