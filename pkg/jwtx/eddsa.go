package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("jwtx: invalid token")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
)

// Codec signs and verifies access tokens with a single Ed25519 keypair.
// The identity core verifies its own tokens, so no JWKS publication or
// multi-key rotation is needed here.
type Codec struct {
	issuer  string
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewCodec builds a Codec from a base64-encoded Ed25519 seed. An empty seed
// generates an ephemeral keypair, which invalidates outstanding access
// tokens on restart; acceptable because refresh tokens survive in storage.
func NewCodec(issuer, seedB64 string) (*Codec, error) {
	var private ed25519.PrivateKey

	if seedB64 == "" {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate keypair: %w", err)
		}
		private = generated
	} else {
		seed, err := base64.RawURLEncoding.DecodeString(seedB64)
		if err != nil {
			return nil, fmt.Errorf("jwtx: decode seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("jwtx: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		private = ed25519.NewKeyFromSeed(seed)
	}

	return &Codec{
		issuer:  issuer,
		private: private,
		public:  private.Public().(ed25519.PublicKey),
	}, nil
}

// Issuer returns the configured "iss" value.
func (c *Codec) Issuer() string { return c.issuer }

// Sign produces a compact EdDSA JWT for the given claims.
func (c *Codec) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(c.private)
}

// Verify parses and validates a compact JWT, enforcing signature, expiry
// and issuer.
func (c *Codec) Verify(tokenString string) (Claims, error) {
	var claims Claims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.public, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return Claims{}, ErrIssuer
	}

	return claims, nil
}
