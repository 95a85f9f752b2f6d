package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, user_id, type, access_token_hash, refresh_token_hash,
	expires_at, ip_address, user_agent, created_at, updated_at`

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, type, access_token_hash,
			refresh_token_hash, expires_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, string(s.Type), s.AccessTokenHash, s.RefreshTokenHash,
		s.ExpiresAt, s.IPAddress, s.UserAgent,
	)
	return err
}

func (r *sessionsRepo) GetSessionByAccessHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE access_token_hash = ?`, hash)
	return scanSession(row)
}

func (r *sessionsRepo) GetSessionByRefreshHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = ?`, hash)
	return scanSession(row)
}

func (r *sessionsRepo) ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		var typ string
		if err := rows.Scan(&s.ID, &s.UserID, &typ, &s.AccessTokenHash,
			&s.RefreshTokenHash, &s.ExpiresAt, &s.IPAddress, &s.UserAgent,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Type = domain.SessionType(typ)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RotateSessionTokens is conditional on the old refresh hash still being
// present; the single UPDATE makes concurrent refreshes of the same token
// race safely with exactly one winner.
func (r *sessionsRepo) RotateSessionTokens(
	ctx context.Context,
	oldRefreshHash, newAccessHash, newRefreshHash string,
	expiresAt time.Time,
) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token_hash = ?, refresh_token_hash = ?, expires_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE refresh_token_hash = ?`,
		newAccessHash, newRefreshHash, expiresAt, oldRefreshHash)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *sessionsRepo) UpdateAccessTokenHash(ctx context.Context, refreshHash, newAccessHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE refresh_token_hash = ?`,
		newAccessHash, refreshHash)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *sessionsRepo) UpgradeSessionType(ctx context.Context, sessionID string, to domain.SessionType) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET type = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(to), sessionID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *sessionsRepo) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (r *sessionsRepo) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) DeleteUserSessionsByTypeExcept(
	ctx context.Context,
	userID string,
	t domain.SessionType,
	exceptSessionID string,
) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE user_id = ? AND type = ? AND id != ?`,
		userID, string(t), exceptSessionID)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP`)
	return err
}

func scanSession(row *sql.Row) (domain.Session, error) {
	var s domain.Session
	var typ string
	err := row.Scan(&s.ID, &s.UserID, &typ, &s.AccessTokenHash,
		&s.RefreshTokenHash, &s.ExpiresAt, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.Type = domain.SessionType(typ)
	if !s.Type.Valid() {
		return domain.Session{}, store.ErrNotFound
	}
	return s, nil
}
