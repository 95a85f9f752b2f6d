package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims minted by the session manager. Every
// access token is bound to a session and to the refresh token that was
// issued alongside it, so a stolen access token cannot outlive a rotation.
type Claims struct {
	jwt.RegisteredClaims

	// SID is the session id the token belongs to.
	SID string `json:"sid"`

	// SessionType gates which endpoints the token may call
	// (ONBOARDING, CLOUD or RESET).
	SessionType string `json:"styp"`

	// RefreshFP is the SHA-256 fingerprint of the refresh token minted in
	// the same rotation. It ties the pair together for audit; the authn
	// boundary additionally checks the token against the stored session
	// row to reject tokens from superseded rotations.
	RefreshFP string `json:"rfp"`
}

// NewAccessClaims builds minimally-correct claims for an access token.
func NewAccessClaims(
	subject, sid, sessionType, refreshFP string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:         sid,
		SessionType: sessionType,
		RefreshFP:   refreshFP,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
