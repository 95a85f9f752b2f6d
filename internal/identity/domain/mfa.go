package domain

import "time"

// MFAMethod is a configured second factor.
type MFAMethod string

const (
	MethodTOTP    MFAMethod = "TOTP"
	MethodPasskey MFAMethod = "PASSKEY"
)

// Challenge method names offered to clients. SMS is derived from a verified
// phone rather than an enrolled MFAAuth record.
const (
	ChallengeTOTP    = "totp"
	ChallengePasskey = "passkey"
	ChallengeSMS     = "sms"
)

// MFAAuth is one row per user per configured second-factor method. A record
// starts pending (IsConfirmed=false) holding a setup challenge until the
// user proves possession; at most one record per user is active.
type MFAAuth struct {
	UserID              string
	Method              MFAMethod
	IsActive            bool
	IsConfirmed         bool
	TOTPSecret          *string
	TOTPBackupCodes     []string // fingerprints, consumed one by one
	PasskeyCredentialID []byte
	PasskeyPublicKey    []byte
	PasskeyCounter      uint32
	PasskeyTransports   []string
	PendingChallenge    *string
	LastUsedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MFAChallenge is the ephemeral record issued after password verification
// when a second factor is required. It lives in the TTL cache, never in
// durable storage, and is consumed exactly once.
type MFAChallenge struct {
	ID               string      `json:"id"` // random unguessable, distinct from any session id
	UserID           string      `json:"user_id"`
	AvailableMethods []string    `json:"available_methods"`
	DefaultMethod    string      `json:"default_method"`
	MaskedPhone      string      `json:"masked_phone,omitempty"`
	PasskeyChallenge string      `json:"passkey_challenge,omitempty"`
	SessionType      SessionType `json:"session_type"`
	IPAddress        string      `json:"ip_address,omitempty"`
	UserAgent        string      `json:"user_agent,omitempty"`
	Attempts         int         `json:"attempts"`
	ExpiresAt        time.Time   `json:"expires_at"`
}

// Offers reports whether the named method is available on this challenge.
func (c MFAChallenge) Offers(method string) bool {
	for _, m := range c.AvailableMethods {
		if m == method {
			return true
		}
	}
	return false
}

// MFARequiredResponse is returned by login when a second factor is needed.
type MFARequiredResponse struct {
	RequiresMFA      bool     `json:"requires_mfa"` // always true
	ChallengeID      string   `json:"challenge_id"`
	AvailableMethods []string `json:"available_methods"`
	DefaultMethod    string   `json:"default_method"`
	MaskedPhone      string   `json:"masked_phone,omitempty"`
}

// MFAEnrollResponse is returned when TOTP enrollment starts.
type MFAEnrollResponse struct {
	Secret          string `json:"secret"`           // base32
	FormattedSecret string `json:"formatted_secret"` // 4-char groups for manual entry
	URI             string `json:"uri"`              // otpauth:// URL for QR rendering
	Issuer          string `json:"issuer"`
	Account         string `json:"account"`
}
