package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/provider"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name        domain.OAuthProvider
	profile     domain.ExternalProfile
	exchangeErr error
	profileErr  error
}

func (f *fakeProvider) Name() domain.OAuthProvider { return f.name }

func (f *fakeProvider) AuthorizationURL(state, codeChallenge string) string {
	return "https://provider.example/authorize?state=" + url.QueryEscape(state) +
		"&code_challenge=" + url.QueryEscape(codeChallenge)
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code, verifier string) (provider.Tokens, error) {
	if f.exchangeErr != nil {
		return provider.Tokens{}, f.exchangeErr
	}
	if code == "" || verifier == "" {
		return provider.Tokens{}, errors.New("missing code or verifier")
	}
	return provider.Tokens{AccessToken: "provider-access", RefreshToken: "provider-refresh"}, nil
}

func (f *fakeProvider) FetchProfile(context.Context, provider.Tokens) (domain.ExternalProfile, error) {
	if f.profileErr != nil {
		return domain.ExternalProfile{}, f.profileErr
	}
	return f.profile, nil
}

func newOAuthEnv(t *testing.T, fake *fakeProvider) (*env, *OAuthService) {
	t.Helper()
	e := newEnv(t)
	svc := NewOAuthService(e.store, provider.NewRegistry(fake), e.sessions, OAuthConfig{
		StateKey:   []byte("0123456789abcdef0123456789abcdef"),
		SuccessURL: "https://app.example/home",
		ErrorURL:   "https://app.example/login",
	})
	return e, svc
}

// initiate runs Initiate and extracts the state token from the auth URL.
func initiate(t *testing.T, svc *OAuthService, providerName string, linkUserID *string) string {
	t.Helper()
	authURL, err := svc.Initiate(context.Background(), providerName, linkUserID)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	require.NotEmpty(t, parsed.Query().Get("code_challenge"))
	return state
}

func TestOAuthInitiate(t *testing.T) {
	fake := &fakeProvider{name: domain.ProviderGoogle}
	_, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	t.Run("unknown provider is rejected", func(t *testing.T) {
		_, err := svc.Initiate(ctx, "myspace", nil)
		require.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})

	t.Run("provider names match case-insensitively", func(t *testing.T) {
		_, err := svc.Initiate(ctx, "GOOGLE", nil)
		require.NoError(t, err)
	})

	t.Run("state token is signed", func(t *testing.T) {
		state := initiate(t, svc, "google", nil)
		id, tag, found := strings.Cut(state, ".")
		require.True(t, found)
		require.NotEmpty(t, id)
		require.NotEmpty(t, tag)
	})
}

func TestOAuthCallbackNewUser(t *testing.T) {
	fake := &fakeProvider{
		name: domain.ProviderGoogle,
		profile: domain.ExternalProfile{
			Provider:       domain.ProviderGoogle,
			ProviderUserID: "google-uid-1",
			Email:          "alice@example.com",
			EmailVerified:  true,
			Name:           "Alice",
		},
	}
	e, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	state := initiate(t, svc, "google", nil)
	result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.Equal(t, "https://app.example/home", result.RedirectURL)
	require.NotNil(t, result.TokenPair)

	user, err := e.store.Users().GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, user.EmailVerified)

	t.Run("link row is created", func(t *testing.T) {
		link, err := e.store.OAuthLinks().GetOAuthLink(ctx, domain.ProviderGoogle, "google-uid-1")
		require.NoError(t, err)
		require.Equal(t, user.ID, link.UserID)
		require.Equal(t, "provider-access", link.AccessToken)
	})

	t.Run("fresh account gets an ONBOARDING session", func(t *testing.T) {
		claims, err := e.codec.Verify(result.TokenPair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, user.ID, claims.Subject)
		require.Equal(t, "ONBOARDING", claims.SessionType)
	})

	t.Run("second login resolves through the link", func(t *testing.T) {
		state := initiate(t, svc, "google", nil)
		result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
		require.NoError(t, err)
		require.NotNil(t, result.TokenPair)

		claims, err := e.codec.Verify(result.TokenPair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, user.ID, claims.Subject)
	})
}

func TestOAuthStateSingleUse(t *testing.T) {
	fake := &fakeProvider{
		name: domain.ProviderGoogle,
		profile: domain.ExternalProfile{
			Provider:       domain.ProviderGoogle,
			ProviderUserID: "google-uid-1",
			Email:          "alice@example.com",
			EmailVerified:  true,
		},
	}
	_, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	state := initiate(t, svc, "google", nil)

	first, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.NotNil(t, first.TokenPair)

	// Replay of the same state must fail, successful or not.
	second, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.Nil(t, second.TokenPair)
	require.Contains(t, second.RedirectURL, "error=invalid_state")
}

func TestOAuthStateConsumedOnFailureToo(t *testing.T) {
	fake := &fakeProvider{
		name:        domain.ProviderGoogle,
		exchangeErr: errors.New("provider is down"),
	}
	_, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	state := initiate(t, svc, "google", nil)

	result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.Nil(t, result.TokenPair)
	require.Contains(t, result.RedirectURL, "error=exchange_failed")

	// The state was consumed on first lookup; the flow must restart.
	fake.exchangeErr = nil
	retry, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.Contains(t, retry.RedirectURL, "error=invalid_state")
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	fake := &fakeProvider{
		name: domain.ProviderGoogle,
		profile: domain.ExternalProfile{
			Provider:       domain.ProviderGoogle,
			ProviderUserID: "google-uid-1",
			Email:          "alice@example.com",
			EmailVerified:  true,
		},
	}
	_, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	state := initiate(t, svc, "google", nil)
	id, _, _ := strings.Cut(state, ".")

	t.Run("tampered signature", func(t *testing.T) {
		result, err := svc.HandleCallback(ctx, "google", "auth-code", id+".forged-tag", "")
		require.NoError(t, err)
		require.Contains(t, result.RedirectURL, "error=invalid_state")
	})

	t.Run("no separator", func(t *testing.T) {
		result, err := svc.HandleCallback(ctx, "google", "auth-code", "garbage", "")
		require.NoError(t, err)
		require.Contains(t, result.RedirectURL, "error=invalid_state")
	})

	t.Run("valid state still usable after rejected forgeries", func(t *testing.T) {
		result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
		require.NoError(t, err)
		require.NotNil(t, result.TokenPair)
	})
}

func TestOAuthCallbackProfileFailure(t *testing.T) {
	fake := &fakeProvider{
		name:       domain.ProviderGoogle,
		profileErr: errors.New("userinfo returned 500"),
	}
	_, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	state := initiate(t, svc, "google", nil)
	result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.Nil(t, result.TokenPair)
	require.Contains(t, result.RedirectURL, "error=profile_failed")
}

func TestOAuthCallbackProviderError(t *testing.T) {
	fake := &fakeProvider{name: domain.ProviderGoogle}
	_, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	state := initiate(t, svc, "google", nil)

	// User cancelled at the consent screen.
	result, err := svc.HandleCallback(ctx, "google", "", state, "access_denied")
	require.NoError(t, err)
	require.Nil(t, result.TokenPair)
	require.Contains(t, result.RedirectURL, "error=access_denied")
}

func TestOAuthAccountResolution(t *testing.T) {
	fake := &fakeProvider{
		name: domain.ProviderGoogle,
		profile: domain.ExternalProfile{
			Provider:       domain.ProviderGoogle,
			ProviderUserID: "google-uid-1",
			Email:          "alice@example.com",
			EmailVerified:  true,
		},
	}
	e, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	t.Run("verified local account gets linked", func(t *testing.T) {
		existing := e.createUser(t, "alice@example.com", "password-123", userOpts{})

		state := initiate(t, svc, "google", nil)
		result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
		require.NoError(t, err)
		require.NotNil(t, result.TokenPair)

		claims, err := e.codec.Verify(result.TokenPair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, existing.ID, claims.Subject)
		require.Equal(t, "CLOUD", claims.SessionType)
	})

	t.Run("unverified local account is recreated", func(t *testing.T) {
		fake.profile.ProviderUserID = "google-uid-2"
		fake.profile.Email = "bob@example.com"
		abandoned := e.createUser(t, "bob@example.com", "password-123", userOpts{unverified: true, notOnboarded: true})

		state := initiate(t, svc, "google", nil)
		result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
		require.NoError(t, err)
		require.NotNil(t, result.TokenPair)

		recreated, err := e.store.Users().GetUserByEmail(ctx, "bob@example.com")
		require.NoError(t, err)
		require.NotEqual(t, abandoned.ID, recreated.ID)
		require.False(t, recreated.HasPassword())
	})

	t.Run("provider without email synthesizes one", func(t *testing.T) {
		fake.profile = domain.ExternalProfile{
			Provider:       domain.ProviderGoogle,
			ProviderUserID: "google-uid-3",
		}

		state := initiate(t, svc, "google", nil)
		result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
		require.NoError(t, err)
		require.NotNil(t, result.TokenPair)

		link, err := e.store.OAuthLinks().GetOAuthLink(ctx, domain.ProviderGoogle, "google-uid-3")
		require.NoError(t, err)
		user, err := e.store.Users().GetUserByID(ctx, link.UserID)
		require.NoError(t, err)
		require.False(t, user.EmailVerified)
		require.Contains(t, user.Email, "google-uid-3")
	})
}

func TestOAuthLinkVariant(t *testing.T) {
	fake := &fakeProvider{
		name: domain.ProviderGoogle,
		profile: domain.ExternalProfile{
			Provider:       domain.ProviderGoogle,
			ProviderUserID: "google-uid-1",
			Email:          "personal@example.com",
			EmailVerified:  true,
		},
	}
	e, svc := newOAuthEnv(t, fake)
	ctx := context.Background()

	// The link variant binds to the requesting account even when the
	// provider email belongs to nobody local.
	owner := e.createUser(t, "work@example.com", "password-123", userOpts{})

	state := initiate(t, svc, "google", &owner.ID)
	result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
	require.NoError(t, err)
	require.NotNil(t, result.TokenPair)

	link, err := e.store.OAuthLinks().GetOAuthLink(ctx, domain.ProviderGoogle, "google-uid-1")
	require.NoError(t, err)
	require.Equal(t, owner.ID, link.UserID)

	t.Run("identity linked elsewhere cannot be re-linked", func(t *testing.T) {
		other := e.createUser(t, "other@example.com", "password-123", userOpts{})

		state := initiate(t, svc, "google", &other.ID)
		result, err := svc.HandleCallback(ctx, "google", "auth-code", state, "")
		require.NoError(t, err)
		require.Nil(t, result.TokenPair)
		require.Contains(t, result.RedirectURL, "error=already_linked")
	})
}
