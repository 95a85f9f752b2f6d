package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
)

type verificationsRepo struct {
	db dbtx
}

const verificationColumns = `id, user_id, channel, otp_hash, attempts,
	expires_at, is_verified, verified_at, reset_token_hash, created_at, updated_at`

func (r *verificationsRepo) CreateVerification(ctx context.Context, v domain.Verification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verifications (id, user_id, channel, otp_hash, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.UserID, string(v.Channel), v.OTPHash, v.ExpiresAt,
	)
	return err
}

func (r *verificationsRepo) GetLatestVerification(
	ctx context.Context,
	userID string,
	channel domain.VerificationChannel,
) (domain.Verification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications
		WHERE user_id = ? AND channel = ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, string(channel))
	return scanVerification(row)
}

func (r *verificationsRepo) GetVerificationByResetTokenHash(ctx context.Context, hash string) (domain.Verification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications
		WHERE reset_token_hash = ?`, hash)
	return scanVerification(row)
}

// IncrementVerificationAttempts bumps and returns the counter in one
// statement so concurrent guesses are all counted.
func (r *verificationsRepo) IncrementVerificationAttempts(ctx context.Context, id string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE verifications
		SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING attempts`, id)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *verificationsRepo) MarkVerificationVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verifications
		SET is_verified = 1, verified_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, verifiedAt, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *verificationsRepo) AttachResetTokenHash(ctx context.Context, id string, hash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verifications
		SET reset_token_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, hash, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// ConsumeVerification clears the reset token and verified flag so neither
// the OTP nor the reset token can authorize a second change. The update is
// conditional on the record still being spendable, so of two concurrent
// consumers exactly one wins; the loser sees ErrNotFound.
func (r *verificationsRepo) ConsumeVerification(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verifications
		SET is_verified = 0, reset_token_hash = NULL,
			expires_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_verified = 1 AND reset_token_hash IS NOT NULL`, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *verificationsRepo) DeleteUserVerifications(
	ctx context.Context,
	userID string,
	channel domain.VerificationChannel,
) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE user_id = ? AND channel = ?`,
		userID, string(channel))
	return err
}

func (r *verificationsRepo) DeleteExpiredVerifications(ctx context.Context) error {
	// Keep recently-expired rows for a day so a verified record's reset
	// window can play out even if the OTP expiry has passed.
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM verifications
		WHERE expires_at < datetime(CURRENT_TIMESTAMP, '-1 day')`)
	return err
}

func scanVerification(row *sql.Row) (domain.Verification, error) {
	var v domain.Verification
	var channel string
	var verifiedAt sql.NullTime
	var resetTokenHash sql.NullString

	err := row.Scan(&v.ID, &v.UserID, &channel, &v.OTPHash, &v.Attempts,
		&v.ExpiresAt, &v.IsVerified, &verifiedAt, &resetTokenHash,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return domain.Verification{}, mapNotFound(err)
	}

	v.Channel = domain.VerificationChannel(channel)
	v.VerifiedAt = mapNullTimePtr(verifiedAt)
	v.ResetTokenHash = mapNullStringPtr(resetTokenHash)
	return v, nil
}
