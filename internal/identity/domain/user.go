package domain

import "time"

// User is the slice of the user directory this core reads and, for the
// password hash and status flags only, mutates. Business profile fields
// live with the directory collaborator.
type User struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       *string // nil for OAuth-only accounts
	Phone              *string
	PhoneVerified      bool
	EmailVerified      bool
	OnboardingComplete bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// MaskedPhone renders the phone for challenge prompts, keeping only the
// last two digits ("*******89").
func (u User) MaskedPhone() string {
	if u.Phone == nil || len(*u.Phone) < 2 {
		return ""
	}
	p := *u.Phone
	masked := make([]byte, len(p))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(p)-2:], p[len(p)-2:])
	return string(masked)
}
