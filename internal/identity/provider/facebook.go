package provider

import (
	"context"

	"github.com/lumehq/identity/internal/identity/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

type Facebook struct {
	cfg *oauth2.Config
}

func NewFacebook(creds Credentials) *Facebook {
	return &Facebook{cfg: &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint:     facebook.Endpoint,
		Scopes:       []string{"email", "public_profile"},
	}}
}

func (f *Facebook) Name() domain.OAuthProvider { return domain.ProviderFacebook }

func (f *Facebook) AuthorizationURL(state, codeChallenge string) string {
	return authCodeURL(f.cfg, state, codeChallenge)
}

func (f *Facebook) ExchangeCode(ctx context.Context, code, codeVerifier string) (Tokens, error) {
	return exchange(ctx, f.cfg, code, codeVerifier)
}

func (f *Facebook) FetchProfile(ctx context.Context, tokens Tokens) (domain.ExternalProfile, error) {
	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := fetchJSON(ctx, "https://graph.facebook.com/v19.0/me?fields=id,email,name", tokens.AccessToken, &body); err != nil {
		return domain.ExternalProfile{}, err
	}

	// Facebook omits the email field entirely when the account has no
	// confirmed address, so presence implies verified.
	return domain.ExternalProfile{
		Provider:       domain.ProviderFacebook,
		ProviderUserID: body.ID,
		Email:          body.Email,
		EmailVerified:  body.Email != "",
		Name:           body.Name,
	}, nil
}
