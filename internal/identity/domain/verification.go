package domain

import "time"

// VerificationChannel is how an OTP reaches the user.
type VerificationChannel string

const (
	ChannelEmail VerificationChannel = "EMAIL"
	ChannelSMS   VerificationChannel = "SMS"
)

// Verification is a generic OTP record. The password-reset flow and the SMS
// second factor both run through it. After a successful validation the
// password-reset flow attaches a reset-token fingerprint that authorizes
// exactly one password change within ResetTokenWindow of VerifiedAt.
type Verification struct {
	ID             string
	UserID         string
	Channel        VerificationChannel
	OTPHash        string
	Attempts       int
	ExpiresAt      time.Time
	IsVerified     bool
	VerifiedAt     *time.Time
	ResetTokenHash *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ResetTokenWindow is how long after OTP verification a reset token stays
// redeemable.
const ResetTokenWindow = 10 * time.Minute
