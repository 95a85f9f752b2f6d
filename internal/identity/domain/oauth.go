package domain

import "time"

// OAuthProvider is the closed set of supported external identity providers.
type OAuthProvider string

const (
	ProviderGoogle    OAuthProvider = "google"
	ProviderMicrosoft OAuthProvider = "microsoft"
	ProviderFacebook  OAuthProvider = "facebook"
	ProviderX         OAuthProvider = "x"
	ProviderApple     OAuthProvider = "apple"
)

// OAuthState is the server-side half of a CSRF state token. The value
// round-tripped through the provider is `<id>.<hmac>`; the row is deleted
// on first lookup regardless of outcome so a state is never usable twice.
type OAuthState struct {
	ID           string
	Provider     OAuthProvider
	UserID       *string // set only for the "link existing account" variant
	CodeVerifier string  // PKCE verifier paired with the challenge sent out
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// OAuthLink connects a local account to an external identity.
type OAuthLink struct {
	ID             string
	UserID         string
	Provider       OAuthProvider
	ProviderUserID string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExternalProfile is what a provider adapter resolves an access token into.
// EmailVerified reflects the provider's own assertion; the account-matching
// rules trust it only for linking, never for skipping our own verification.
type ExternalProfile struct {
	Provider       OAuthProvider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}
