package sqlite

import (
	"context"
	"database/sql"

	"github.com/lumehq/identity/internal/identity/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, name, password_hash, phone, phone_verified,
	email_verified, onboarding_complete, created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, phone, phone_verified,
			email_verified, onboarding_complete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, mapOptionalString(u.PasswordHash),
		mapOptionalString(u.Phone), u.PhoneVerified, u.EmailVerified,
		u.OnboardingComplete,
	)
	return mapAlreadyExists(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, newHash, userID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_verified = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *usersRepo) MarkOnboardingComplete(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET onboarding_complete = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var passwordHash, phone sql.NullString
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &passwordHash, &phone, &u.PhoneVerified,
		&u.EmailVerified, &u.OnboardingComplete, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.PasswordHash = mapNullStringPtr(passwordHash)
	u.Phone = mapNullStringPtr(phone)
	return u, nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}
