// Package provider implements the pluggable OAuth provider adapters. Each
// adapter exposes the same three operations so the flow controller stays
// agnostic to provider-specific request shapes.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/apperr"
	"golang.org/x/oauth2"
)

// External calls carry timeouts and are retried zero times: a duplicate
// token exchange risks duplicate account creation.
const callTimeout = 10 * time.Second

// Credentials is the per-provider client registration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Tokens is the result of a code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    *time.Time
}

type Provider interface {
	Name() domain.OAuthProvider

	// AuthorizationURL builds the provider's consent URL carrying the
	// signed state and the PKCE S256 challenge.
	AuthorizationURL(state, codeChallenge string) string

	// ExchangeCode swaps an authorization code (plus the PKCE verifier)
	// for provider tokens.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (Tokens, error)

	// FetchProfile resolves an access token into the external identity.
	FetchProfile(ctx context.Context, tokens Tokens) (domain.ExternalProfile, error)
}

// Registry is the closed set of configured providers. Lookup is
// case-insensitive; unknown names are a BadRequest, not a panic.
type Registry struct {
	providers map[domain.OAuthProvider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[domain.OAuthProvider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[domain.OAuthProvider(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, apperr.BadRequest("Unknown OAuth provider.")
	}
	return p, nil
}

// authCodeURL is the shared x/oauth2 plumbing for adapters.
func authCodeURL(cfg *oauth2.Config, state, codeChallenge string, extra ...oauth2.AuthCodeOption) string {
	opts := append([]oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}, extra...)
	return cfg.AuthCodeURL(state, opts...)
}

func exchange(ctx context.Context, cfg *oauth2.Config, code, verifier string) (Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Tokens{}, fmt.Errorf("provider: code exchange failed: %w", err)
	}

	tokens := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		tokens.ExpiresAt = &expiry
	}
	return tokens, nil
}

// fetchJSON GETs url with a bearer token and decodes the JSON body into out.
func fetchJSON(ctx context.Context, url, accessToken string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: profile fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: profile fetch returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
