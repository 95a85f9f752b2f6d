package provider

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumehq/identity/internal/identity/domain"
	"golang.org/x/oauth2"
)

var appleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Apple has no userinfo endpoint; the profile comes from the id_token
// issued alongside the access token. The token arrives over the direct
// TLS exchange with appleid.apple.com, so its claims are trusted without
// a separate signature check against Apple's JWKS.
type Apple struct {
	cfg *oauth2.Config
}

func NewApple(creds Credentials) *Apple {
	return &Apple{cfg: &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint:     appleEndpoint,
		Scopes:       []string{"name", "email"},
	}}
}

func (a *Apple) Name() domain.OAuthProvider { return domain.ProviderApple }

func (a *Apple) AuthorizationURL(state, codeChallenge string) string {
	// form_post is required whenever the name or email scope is present.
	return authCodeURL(a.cfg, state, codeChallenge,
		oauth2.SetAuthURLParam("response_mode", "form_post"))
}

func (a *Apple) ExchangeCode(ctx context.Context, code, codeVerifier string) (Tokens, error) {
	return exchange(ctx, a.cfg, code, codeVerifier)
}

func (a *Apple) FetchProfile(_ context.Context, tokens Tokens) (domain.ExternalProfile, error) {
	if tokens.IDToken == "" {
		return domain.ExternalProfile{}, fmt.Errorf("provider: apple token response carried no id_token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.IDToken, claims); err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("provider: malformed apple id_token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.ExternalProfile{}, fmt.Errorf("provider: apple id_token carried no subject")
	}
	email, _ := claims["email"].(string)

	// email_verified arrives as a bool or the string "true" depending on
	// the token vintage.
	verified := false
	switch v := claims["email_verified"].(type) {
	case bool:
		verified = v
	case string:
		verified = v == "true"
	}

	return domain.ExternalProfile{
		Provider:       domain.ProviderApple,
		ProviderUserID: sub,
		Email:          email,
		EmailVerified:  verified,
	}, nil
}
