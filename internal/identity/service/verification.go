package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/idx"
	"github.com/lumehq/identity/pkg/slogx"
)

const (
	otpLength      = 6
	otpTTL         = 10 * time.Minute
	maxOTPAttempts = 5
)

// VerificationService issues and validates short-lived numeric OTPs. The
// password-reset flow and the SMS second factor both run through it; only
// the OTP fingerprint is stored.
type VerificationService struct {
	store      store.Store
	dispatcher Dispatcher
}

func NewVerificationService(st store.Store, dispatcher Dispatcher) *VerificationService {
	return &VerificationService{store: st, dispatcher: dispatcher}
}

// Create replaces any outstanding OTP for (user, channel) with a fresh
// 6-digit code and hands it to the dispatcher. Replacing rather than
// stacking means a re-request resets the attempt budget along with the code.
func (s *VerificationService) Create(ctx context.Context, userID string, channel domain.VerificationChannel, destination string) (domain.Verification, error) {
	code, err := generateOTP()
	if err != nil {
		return domain.Verification{}, apperr.Wrap(apperr.CodeInternal, "Failed to generate verification code.", err)
	}

	now := time.Now().UTC()
	v := domain.Verification{
		ID:        idx.New().String(),
		UserID:    userID,
		Channel:   channel,
		OTPHash:   cryptox.FingerprintToken(code),
		ExpiresAt: now.Add(otpTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Verifications().DeleteUserVerifications(ctx, userID, channel); err != nil {
		return domain.Verification{}, apperr.Wrap(apperr.CodeInternal, "Failed to reset verification state.", err)
	}
	if err := s.store.Verifications().CreateVerification(ctx, v); err != nil {
		return domain.Verification{}, apperr.Wrap(apperr.CodeInternal, "Failed to store verification.", err)
	}

	// Delivery happens off the request path. A dispatch failure is logged
	// rather than surfaced so responses stay indistinguishable.
	go func() {
		dctx, cancel := context.WithTimeout(slogx.WithContext(context.Background(), slogx.FromContext(ctx)), 15*time.Second)
		defer cancel()
		if err := s.dispatcher.DispatchOTP(dctx, channel, destination, code); err != nil {
			slogx.FromContext(dctx).Error("otp dispatch failed",
				slog.String("verification_id", v.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return v, nil
}

// Validate checks a presented code against the latest OTP for the user and
// channel. Attempts are counted in a single statement before the comparison
// so concurrent guesses cannot slip under the cap; the record is destroyed
// once the cap is hit.
func (s *VerificationService) Validate(ctx context.Context, userID string, channel domain.VerificationChannel, code string) (domain.Verification, error) {
	v, err := s.store.Verifications().GetLatestVerification(ctx, userID, channel)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Verification{}, apperr.Unauthorized("Invalid or expired code.")
	}
	if err != nil {
		return domain.Verification{}, apperr.Wrap(apperr.CodeInternal, "Failed to load verification.", err)
	}

	now := time.Now().UTC()
	if now.After(v.ExpiresAt) {
		_ = s.store.Verifications().DeleteUserVerifications(ctx, userID, channel)
		return domain.Verification{}, apperr.Unauthorized("Code expired. Request a new one.")
	}

	attempts, err := s.store.Verifications().IncrementVerificationAttempts(ctx, v.ID)
	if err != nil {
		return domain.Verification{}, apperr.Wrap(apperr.CodeInternal, "Failed to record attempt.", err)
	}
	if attempts > maxOTPAttempts {
		_ = s.store.Verifications().DeleteUserVerifications(ctx, userID, channel)
		return domain.Verification{}, apperr.Unauthorized("Too many attempts. Request a new code.")
	}

	if cryptox.FingerprintToken(code) != v.OTPHash {
		return domain.Verification{}, apperr.Unauthorized("Invalid or expired code.")
	}

	if err := s.store.Verifications().MarkVerificationVerified(ctx, v.ID, now); err != nil {
		return domain.Verification{}, apperr.Wrap(apperr.CodeInternal, "Failed to mark verification.", err)
	}

	v.Attempts = attempts
	v.IsVerified = true
	v.VerifiedAt = &now
	return v, nil
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpLength, n), nil
}
