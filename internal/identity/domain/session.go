package domain

import "time"

// SessionType gates which endpoints a session may call.
type SessionType string

const (
	// SessionOnboarding is issued after signup until onboarding completes.
	SessionOnboarding SessionType = "ONBOARDING"
	// SessionCloud is a fully authenticated platform session.
	SessionCloud SessionType = "CLOUD"
	// SessionReset authorizes only the password-reset endpoints.
	SessionReset SessionType = "RESET"
)

// Valid reports whether t is one of the known session types.
func (t SessionType) Valid() bool {
	switch t {
	case SessionOnboarding, SessionCloud, SessionReset:
		return true
	}
	return false
}

// Session models the stored session record. Tokens are never stored in
// plaintext, only their SHA-256 fingerprints.
type Session struct {
	ID               string
	UserID           string
	Type             SessionType
	AccessTokenHash  string
	RefreshTokenHash string
	ExpiresAt        time.Time
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TokenPair is what session creation and refresh return to the transport.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // seconds until access expiry
}
