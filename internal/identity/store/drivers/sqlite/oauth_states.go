package sqlite

import (
	"context"
	"database/sql"

	"github.com/lumehq/identity/internal/identity/domain"
)

type oauthStatesRepo struct {
	db dbtx
}

func (r *oauthStatesRepo) CreateOAuthState(ctx context.Context, s domain.OAuthState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_states (id, provider, user_id, code_verifier, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, string(s.Provider), mapOptionalString(s.UserID), s.CodeVerifier,
		s.ExpiresAt,
	)
	return err
}

// ConsumeOAuthState deletes the row and returns it in a single statement,
// so two concurrent callbacks with the same state cannot both succeed.
func (r *oauthStatesRepo) ConsumeOAuthState(ctx context.Context, id string) (domain.OAuthState, error) {
	row := r.db.QueryRowContext(ctx, `
		DELETE FROM oauth_states WHERE id = ?
		RETURNING id, provider, user_id, code_verifier, expires_at, created_at`,
		id)

	var s domain.OAuthState
	var provider string
	var userID sql.NullString
	if err := row.Scan(&s.ID, &provider, &userID, &s.CodeVerifier, &s.ExpiresAt, &s.CreatedAt); err != nil {
		return domain.OAuthState{}, mapNotFound(err)
	}
	s.Provider = domain.OAuthProvider(provider)
	s.UserID = mapNullStringPtr(userID)
	return s, nil
}

func (r *oauthStatesRepo) DeleteExpiredOAuthStates(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at < CURRENT_TIMESTAMP`)
	return err
}
