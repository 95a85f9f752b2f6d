package provider

import (
	"context"

	"github.com/lumehq/identity/internal/identity/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

type Google struct {
	cfg *oauth2.Config
}

func NewGoogle(creds Credentials) *Google {
	return &Google{cfg: &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}}
}

func (g *Google) Name() domain.OAuthProvider { return domain.ProviderGoogle }

func (g *Google) AuthorizationURL(state, codeChallenge string) string {
	return authCodeURL(g.cfg, state, codeChallenge)
}

func (g *Google) ExchangeCode(ctx context.Context, code, codeVerifier string) (Tokens, error) {
	return exchange(ctx, g.cfg, code, codeVerifier)
}

func (g *Google) FetchProfile(ctx context.Context, tokens Tokens) (domain.ExternalProfile, error) {
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := fetchJSON(ctx, "https://openidconnect.googleapis.com/v1/userinfo", tokens.AccessToken, &body); err != nil {
		return domain.ExternalProfile{}, err
	}
	return domain.ExternalProfile{
		Provider:       domain.ProviderGoogle,
		ProviderUserID: body.Sub,
		Email:          body.Email,
		EmailVerified:  body.EmailVerified,
		Name:           body.Name,
	}, nil
}
