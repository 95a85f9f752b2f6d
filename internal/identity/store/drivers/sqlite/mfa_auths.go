package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
)

type mfaAuthsRepo struct {
	db dbtx
}

const mfaAuthColumns = `user_id, method, is_active, is_confirmed, totp_secret,
	totp_backup_codes, passkey_credential_id, passkey_public_key,
	passkey_counter, passkey_transports, pending_challenge, last_used_at,
	created_at, updated_at`

func (r *mfaAuthsRepo) GetMFAAuth(ctx context.Context, userID string, method domain.MFAMethod) (domain.MFAAuth, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mfaAuthColumns+` FROM mfa_auths WHERE user_id = ? AND method = ?`,
		userID, string(method))
	return scanMFAAuth(row)
}

func (r *mfaAuthsRepo) GetActiveMFAAuth(ctx context.Context, userID string) (domain.MFAAuth, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mfaAuthColumns+` FROM mfa_auths
		WHERE user_id = ? AND is_active = 1 AND is_confirmed = 1`,
		userID)
	return scanMFAAuth(row)
}

func (r *mfaAuthsRepo) UpsertMFAAuth(ctx context.Context, a domain.MFAAuth) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_auths (user_id, method, is_active, is_confirmed,
			totp_secret, totp_backup_codes, passkey_credential_id,
			passkey_public_key, passkey_counter, passkey_transports,
			pending_challenge)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, method) DO UPDATE SET
			is_active = excluded.is_active,
			is_confirmed = excluded.is_confirmed,
			totp_secret = excluded.totp_secret,
			totp_backup_codes = excluded.totp_backup_codes,
			passkey_credential_id = excluded.passkey_credential_id,
			passkey_public_key = excluded.passkey_public_key,
			passkey_counter = excluded.passkey_counter,
			passkey_transports = excluded.passkey_transports,
			pending_challenge = excluded.pending_challenge,
			updated_at = CURRENT_TIMESTAMP`,
		a.UserID, string(a.Method), a.IsActive, a.IsConfirmed,
		mapOptionalString(a.TOTPSecret), joinList(a.TOTPBackupCodes),
		a.PasskeyCredentialID, a.PasskeyPublicKey, a.PasskeyCounter,
		joinList(a.PasskeyTransports), mapOptionalString(a.PendingChallenge),
	)
	return err
}

func (r *mfaAuthsRepo) ConfirmMFAAuth(ctx context.Context, userID string, method domain.MFAMethod) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_auths
		SET is_confirmed = 1, is_active = 1, pending_challenge = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND method = ?`,
		userID, string(method))
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *mfaAuthsRepo) DeactivateMFAAuths(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mfa_auths SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`, userID)
	return err
}

func (r *mfaAuthsRepo) UpdateBackupCodes(ctx context.Context, userID string, method domain.MFAMethod, hashes []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_auths SET totp_backup_codes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND method = ?`,
		joinList(hashes), userID, string(method))
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *mfaAuthsRepo) UpdatePendingChallenge(ctx context.Context, userID string, method domain.MFAMethod, challenge *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_auths SET pending_challenge = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND method = ?`,
		mapOptionalString(challenge), userID, string(method))
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *mfaAuthsRepo) UpdatePasskeyCounter(ctx context.Context, userID string, counter uint32) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_auths SET passkey_counter = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND method = ?`,
		counter, userID, string(domain.MethodPasskey))
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *mfaAuthsRepo) TouchLastUsed(ctx context.Context, userID string, method domain.MFAMethod) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mfa_auths SET last_used_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND method = ?`,
		userID, string(method))
	return err
}

func (r *mfaAuthsRepo) DeleteMFAAuth(ctx context.Context, userID string, method domain.MFAMethod) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_auths WHERE user_id = ? AND method = ?`,
		userID, string(method))
	return err
}

func (r *mfaAuthsRepo) DeleteAbandonedMFAAuths(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_auths WHERE is_confirmed = 0 AND created_at < ?`, cutoff)
	return err
}

func scanMFAAuth(row *sql.Row) (domain.MFAAuth, error) {
	var a domain.MFAAuth
	var method, backupCodes, transports string
	var totpSecret, pendingChallenge sql.NullString
	var lastUsedAt sql.NullTime

	err := row.Scan(&a.UserID, &method, &a.IsActive, &a.IsConfirmed,
		&totpSecret, &backupCodes, &a.PasskeyCredentialID, &a.PasskeyPublicKey,
		&a.PasskeyCounter, &transports, &pendingChallenge, &lastUsedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.MFAAuth{}, mapNotFound(err)
	}

	a.Method = domain.MFAMethod(method)
	a.TOTPSecret = mapNullStringPtr(totpSecret)
	a.TOTPBackupCodes = splitList(backupCodes)
	a.PasskeyTransports = splitList(transports)
	a.PendingChallenge = mapNullStringPtr(pendingChallenge)
	a.LastUsedAt = mapNullTimePtr(lastUsedAt)
	return a, nil
}
