package sqlite

import (
	"context"
	"database/sql"

	"github.com/lumehq/identity/internal/identity/domain"
)

type oauthLinksRepo struct {
	db dbtx
}

const oauthLinkColumns = `id, user_id, provider, provider_user_id,
	access_token, refresh_token, expires_at, created_at, updated_at`

func (r *oauthLinksRepo) GetOAuthLink(
	ctx context.Context,
	provider domain.OAuthProvider,
	providerUserID string,
) (domain.OAuthLink, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+oauthLinkColumns+` FROM oauth_links
		WHERE provider = ? AND provider_user_id = ?`,
		string(provider), providerUserID)
	return scanOAuthLink(row)
}

func (r *oauthLinksRepo) ListUserOAuthLinks(ctx context.Context, userID string) ([]domain.OAuthLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+oauthLinkColumns+` FROM oauth_links
		WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.OAuthLink
	for rows.Next() {
		var l domain.OAuthLink
		var provider string
		var expiresAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.UserID, &provider, &l.ProviderUserID,
			&l.AccessToken, &l.RefreshToken, &expiresAt, &l.CreatedAt,
			&l.UpdatedAt); err != nil {
			return nil, err
		}
		l.Provider = domain.OAuthProvider(provider)
		l.ExpiresAt = mapNullTimePtr(expiresAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *oauthLinksRepo) UpsertOAuthLink(ctx context.Context, l domain.OAuthLink) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_links (id, user_id, provider, provider_user_id,
			access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_user_id) DO UPDATE SET
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		l.ID, l.UserID, string(l.Provider), l.ProviderUserID, l.AccessToken,
		l.RefreshToken, mapOptionalTime(l.ExpiresAt),
	)
	return err
}

func (r *oauthLinksRepo) DeleteOAuthLink(ctx context.Context, userID string, provider domain.OAuthProvider) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_links WHERE user_id = ? AND provider = ?`,
		userID, string(provider))
	return err
}

func scanOAuthLink(row *sql.Row) (domain.OAuthLink, error) {
	var l domain.OAuthLink
	var provider string
	var expiresAt sql.NullTime
	err := row.Scan(&l.ID, &l.UserID, &provider, &l.ProviderUserID,
		&l.AccessToken, &l.RefreshToken, &expiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return domain.OAuthLink{}, mapNotFound(err)
	}
	l.Provider = domain.OAuthProvider(provider)
	l.ExpiresAt = mapNullTimePtr(expiresAt)
	return l, nil
}
