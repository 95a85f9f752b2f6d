package provider

import (
	"context"

	"github.com/lumehq/identity/internal/identity/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

type Microsoft struct {
	cfg *oauth2.Config
}

func NewMicrosoft(creds Credentials) *Microsoft {
	return &Microsoft{cfg: &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint:     microsoft.AzureADEndpoint("common"),
		Scopes:       []string{"openid", "email", "profile", "User.Read"},
	}}
}

func (m *Microsoft) Name() domain.OAuthProvider { return domain.ProviderMicrosoft }

func (m *Microsoft) AuthorizationURL(state, codeChallenge string) string {
	return authCodeURL(m.cfg, state, codeChallenge)
}

func (m *Microsoft) ExchangeCode(ctx context.Context, code, codeVerifier string) (Tokens, error) {
	return exchange(ctx, m.cfg, code, codeVerifier)
}

func (m *Microsoft) FetchProfile(ctx context.Context, tokens Tokens) (domain.ExternalProfile, error) {
	var body struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := fetchJSON(ctx, "https://graph.microsoft.com/v1.0/me", tokens.AccessToken, &body); err != nil {
		return domain.ExternalProfile{}, err
	}

	// Graph leaves mail empty for some account types; the UPN is the
	// routable address in that case. Graph only returns addresses the
	// tenant controls, so both count as verified.
	email := body.Mail
	if email == "" {
		email = body.UserPrincipalName
	}
	return domain.ExternalProfile{
		Provider:       domain.ProviderMicrosoft,
		ProviderUserID: body.ID,
		Email:          email,
		EmailVerified:  email != "",
		Name:           body.DisplayName,
	}, nil
}
