package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/provider"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/idx"
	"github.com/lumehq/identity/pkg/slogx"
	"golang.org/x/oauth2"
)

const oauthStateTTL = 10 * time.Minute

// OAuthConfig wires the flow controller to its surroundings.
type OAuthConfig struct {
	// StateKey signs state tokens (HMAC-SHA256).
	StateKey []byte
	// SuccessURL and ErrorURL are where callbacks land the browser.
	SuccessURL string
	ErrorURL   string
}

// CallbackResult is what HandleCallback hands the transport: a redirect
// target and, on success, the token pair for cookie assembly. Failures
// still produce a redirect; raw provider errors never reach the browser.
type CallbackResult struct {
	RedirectURL string
	TokenPair   *domain.TokenPair
}

// OAuthService drives the authorization-code flow with PKCE against the
// configured providers.
type OAuthService struct {
	store    store.Store
	registry *provider.Registry
	sessions *SessionService
	cfg      OAuthConfig
}

func NewOAuthService(st store.Store, registry *provider.Registry, sessions *SessionService, cfg OAuthConfig) *OAuthService {
	return &OAuthService{store: st, registry: registry, sessions: sessions, cfg: cfg}
}

// Initiate validates the provider, generates the PKCE pair, persists a
// time-boxed state record and returns the provider's authorization URL.
// linkUserID is set only for the "link to existing account" variant.
func (s *OAuthService) Initiate(ctx context.Context, providerName string, linkUserID *string) (string, error) {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	now := time.Now().UTC()
	state := domain.OAuthState{
		ID:           uuid.NewString(),
		Provider:     p.Name(),
		UserID:       linkUserID,
		CodeVerifier: verifier,
		ExpiresAt:    now.Add(oauthStateTTL),
		CreatedAt:    now,
	}
	if err := s.store.OAuthStates().CreateOAuthState(ctx, state); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "Failed to persist OAuth state.", err)
	}

	stateToken := state.ID + "." + cryptox.SignHMAC(s.cfg.StateKey, state.ID)
	return p.AuthorizationURL(stateToken, oauth2.S256ChallengeFromVerifier(verifier)), nil
}

// HandleCallback completes the flow. The state record is deleted on first
// lookup regardless of what happens afterwards, so a state value can never
// be replayed; "state consumed but exchange failed" is terminal and the
// user restarts the flow.
func (s *OAuthService) HandleCallback(ctx context.Context, providerName, code, stateToken, providerErr string) (CallbackResult, error) {
	log := slogx.FromContext(ctx).With(slog.String("provider", strings.ToLower(providerName)))

	p, err := s.registry.Get(providerName)
	if err != nil {
		return s.errorRedirect("invalid_provider"), nil
	}

	if providerErr != "" {
		// User cancelled or the provider refused; nothing was exchanged.
		log.Info("oauth callback reported provider error", slog.String("provider_error", providerErr))
		return s.errorRedirect("access_denied"), nil
	}

	stateID, ok := s.verifyStateToken(stateToken)
	if !ok {
		return s.errorRedirect("invalid_state"), nil
	}

	state, err := s.store.OAuthStates().ConsumeOAuthState(ctx, stateID)
	if errors.Is(err, store.ErrNotFound) {
		return s.errorRedirect("invalid_state"), nil
	}
	if err != nil {
		log.Error("oauth state lookup failed", slog.String("error", err.Error()))
		return s.errorRedirect("internal"), nil
	}
	if time.Now().UTC().After(state.ExpiresAt) || state.Provider != p.Name() {
		return s.errorRedirect("invalid_state"), nil
	}

	tokens, err := p.ExchangeCode(ctx, code, state.CodeVerifier)
	if err != nil {
		log.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return s.errorRedirect("exchange_failed"), nil
	}

	profile, err := p.FetchProfile(ctx, tokens)
	if err != nil || profile.ProviderUserID == "" {
		log.Warn("oauth profile fetch failed")
		return s.errorRedirect("profile_failed"), nil
	}

	user, err := s.resolveAccount(ctx, state, profile)
	if err != nil {
		if appErr := apperr.As(err); appErr != nil && appErr.Code == apperr.CodeConflict {
			return s.errorRedirect("already_linked"), nil
		}
		log.Error("oauth account resolution failed", slog.String("error", err.Error()))
		return s.errorRedirect("internal"), nil
	}

	now := time.Now().UTC()
	if err := s.store.OAuthLinks().UpsertOAuthLink(ctx, domain.OAuthLink{
		ID:             idx.New().String(),
		UserID:         user.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		ExpiresAt:      tokens.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		log.Error("oauth link upsert failed", slog.String("error", err.Error()))
		return s.errorRedirect("internal"), nil
	}

	sessionType := domain.SessionOnboarding
	if user.OnboardingComplete {
		sessionType = domain.SessionCloud
	}
	_, pair, err := s.sessions.Create(ctx, user.ID, sessionType, "", "")
	if err != nil {
		log.Error("oauth session creation failed", slog.String("error", err.Error()))
		return s.errorRedirect("internal"), nil
	}

	return CallbackResult{RedirectURL: s.cfg.SuccessURL, TokenPair: &pair}, nil
}

// resolveAccount maps the external profile to a local user.
//
// Rules: an explicit link request binds to that user; an existing link wins
// outright; a verified local account with the same address gets linked; an
// unverified one is treated as an abandoned signup and recreated; otherwise
// a new account is created with the provider-asserted verification flag.
func (s *OAuthService) resolveAccount(ctx context.Context, state domain.OAuthState, profile domain.ExternalProfile) (domain.User, error) {
	existingLink, err := s.store.OAuthLinks().GetOAuthLink(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}
	linked := err == nil

	if state.UserID != nil {
		if linked && existingLink.UserID != *state.UserID {
			return domain.User{}, apperr.Conflict("This external account is linked elsewhere.")
		}
		return s.store.Users().GetUserByID(ctx, *state.UserID)
	}

	if linked {
		return s.store.Users().GetUserByID(ctx, existingLink.UserID)
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email != "" {
		existing, err := s.store.Users().GetUserByEmail(ctx, email)
		switch {
		case err == nil && existing.EmailVerified:
			return existing, nil
		case err == nil:
			// Abandoned signup: the address was never proven, so the
			// external identity takes it over.
			if err := s.store.Users().DeleteUser(ctx, existing.ID); err != nil {
				return domain.User{}, err
			}
		case !errors.Is(err, store.ErrNotFound):
			return domain.User{}, err
		}
	} else {
		// Some providers (X) never expose an email. Synthesize a stable
		// non-routable address to satisfy the unique column; the account
		// resolves through the provider link from here on.
		email = fmt.Sprintf("%s.%s@users.noreply.invalid", profile.Provider, profile.ProviderUserID)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:            idx.New().String(),
		Email:         email,
		Name:          profile.Name,
		EmailVerified: profile.Email != "" && profile.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// verifyStateToken splits and checks `<id>.<hmac>`. The comparison is
// constant-time; the store is only consulted for tokens we signed.
func (s *OAuthService) verifyStateToken(token string) (string, bool) {
	id, tag, found := strings.Cut(token, ".")
	if !found || id == "" || tag == "" {
		return "", false
	}
	if !cryptox.VerifyHMAC(s.cfg.StateKey, id, tag) {
		return "", false
	}
	return id, true
}

func (s *OAuthService) errorRedirect(code string) CallbackResult {
	sep := "?"
	if strings.Contains(s.cfg.ErrorURL, "?") {
		sep = "&"
	}
	return CallbackResult{RedirectURL: s.cfg.ErrorURL + sep + "error=" + code}
}
