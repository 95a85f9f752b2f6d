package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/slogx"
)

// ResetService runs the three-step password reset: request an OTP, trade a
// valid OTP for an opaque reset token, and spend that token on exactly one
// password change within the window.
type ResetService struct {
	store         store.Store
	sessions      *SessionService
	verifications *VerificationService
}

func NewResetService(st store.Store, sessions *SessionService, verifications *VerificationService) *ResetService {
	return &ResetService{store: st, sessions: sessions, verifications: verifications}
}

// Request queues a reset OTP when the address matches an account. The
// return is identical either way; nothing in the response or its timing
// says whether the account exists.
func (s *ResetService) Request(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		slogx.FromContext(ctx).Error("reset request lookup failed", slog.String("error", err.Error()))
		return nil
	}

	if _, err := s.verifications.Create(ctx, user.ID, domain.ChannelEmail, user.Email); err != nil {
		slogx.FromContext(ctx).Error("reset otp creation failed", slog.String("error", err.Error()))
	}
	return nil
}

// VerifyOTP trades a valid OTP for an opaque reset token whose fingerprint
// is pinned to the verification record.
func (s *ResetService) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.Unauthorized("Invalid or expired code.")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}

	verification, err := s.verifications.Validate(ctx, user.ID, domain.ChannelEmail, code)
	if err != nil {
		return "", err
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "Failed to generate reset token.", err)
	}
	if err := s.store.Verifications().AttachResetTokenHash(ctx, verification.ID, cryptox.FingerprintToken(token)); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "Failed to store reset token.", err)
	}
	return token, nil
}

// Reset spends the token on one password change. The window runs from
// verified_at; outside it, or on a second use, the call fails BadRequest
// and the stale record is destroyed. A successful reset logs the user out
// everywhere.
func (s *ResetService) Reset(ctx context.Context, resetToken, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperr.BadRequest("Password must be at least 8 characters.")
	}

	verification, err := s.store.Verifications().GetVerificationByResetTokenHash(ctx, cryptox.FingerprintToken(resetToken))
	if errors.Is(err, store.ErrNotFound) {
		return apperr.BadRequest("Invalid or expired reset token. Restart the reset flow.")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to load reset record.", err)
	}

	if !verification.IsVerified || verification.VerifiedAt == nil ||
		time.Now().UTC().Sub(*verification.VerifiedAt) > domain.ResetTokenWindow {
		_ = s.store.Verifications().ConsumeVerification(ctx, verification.ID)
		return apperr.BadRequest("Invalid or expired reset token. Restart the reset flow.")
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to hash password.", err)
	}

	// Consume first: it is conditional on the record still being spendable,
	// so of two concurrent resets with the same token only one reaches the
	// password update.
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Verifications().ConsumeVerification(ctx, verification.ID); err != nil {
			return err
		}
		return tx.Users().UpdatePasswordHash(ctx, verification.UserID, hash)
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperr.BadRequest("Invalid or expired reset token. Restart the reset flow.")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to reset password.", err)
	}

	// Force re-authentication everywhere.
	return s.sessions.InvalidateAll(ctx, verification.UserID)
}
