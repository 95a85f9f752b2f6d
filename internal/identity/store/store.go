package store

import (
	"context"
	"errors"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for
// now) implement it. Sub-repositories keep the aggregates tidy and let
// tests target one seam at a time.
type Store interface {
	Users() Users
	Sessions() Sessions
	MFAAuths() MFAAuths
	OAuthStates() OAuthStates
	OAuthLinks() OAuthLinks
	Verifications() Verifications

	ApplyMigrations() error

	// WithTx executes fn within a transaction, rolling back if fn errors.
	// Use it for multi-step operations that must be atomic, e.g. refresh
	// rotation.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store. Commit/Rollback are handled by WithTx.
type Tx interface {
	Users() Users
	Sessions() Sessions
	MFAAuths() MFAAuths
	OAuthStates() OAuthStates
	OAuthLinks() OAuthLinks
	Verifications() Verifications
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
	MarkOnboardingComplete(ctx context.Context, userID string) error

	// DeleteUser cascades to sessions, mfa_auths and oauth_links. Used
	// only for the abandoned-unverified-signup path.
	DeleteUser(ctx context.Context, userID string) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSessionByAccessHash(ctx context.Context, hash string) (domain.Session, error)
	GetSessionByRefreshHash(ctx context.Context, hash string) (domain.Session, error)
	ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// RotateSessionTokens swaps both token hashes and extends expiry, but
	// only while the old refresh hash still matches. Returns ErrNotFound
	// when another rotation won the race; this is the atomic guard against
	// double-use of a refresh token.
	RotateSessionTokens(ctx context.Context, oldRefreshHash, newAccessHash, newRefreshHash string, expiresAt time.Time) error

	// UpdateAccessTokenHash swaps only the access hash (silent recover).
	UpdateAccessTokenHash(ctx context.Context, refreshHash, newAccessHash string) error

	// UpgradeSessionType changes the type in place.
	UpgradeSessionType(ctx context.Context, sessionID string, to domain.SessionType) error

	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)

	// DeleteUserSessionsByTypeExcept removes a user's sessions of the given
	// type, sparing one session id. Used by the onboarding upgrade.
	DeleteUserSessionsByTypeExcept(ctx context.Context, userID string, t domain.SessionType, exceptSessionID string) error

	DeleteExpiredSessions(ctx context.Context) error
}

type MFAAuths interface {
	GetMFAAuth(ctx context.Context, userID string, method domain.MFAMethod) (domain.MFAAuth, error)
	GetActiveMFAAuth(ctx context.Context, userID string) (domain.MFAAuth, error)

	// UpsertMFAAuth creates or replaces the record for (user, method).
	// Enrollment restarts overwrite the pending record.
	UpsertMFAAuth(ctx context.Context, a domain.MFAAuth) error

	// ConfirmMFAAuth flips the record confirmed+active and clears the
	// pending challenge. Any other active record for the user must be
	// deactivated in the same transaction by the caller.
	ConfirmMFAAuth(ctx context.Context, userID string, method domain.MFAMethod) error
	DeactivateMFAAuths(ctx context.Context, userID string) error

	UpdateBackupCodes(ctx context.Context, userID string, method domain.MFAMethod, hashes []string) error
	UpdatePendingChallenge(ctx context.Context, userID string, method domain.MFAMethod, challenge *string) error
	UpdatePasskeyCounter(ctx context.Context, userID string, counter uint32) error
	TouchLastUsed(ctx context.Context, userID string, method domain.MFAMethod) error

	DeleteMFAAuth(ctx context.Context, userID string, method domain.MFAMethod) error

	// DeleteAbandonedMFAAuths drops unconfirmed records older than cutoff.
	DeleteAbandonedMFAAuths(ctx context.Context, cutoff time.Time) error
}

type OAuthStates interface {
	CreateOAuthState(ctx context.Context, s domain.OAuthState) error

	// ConsumeOAuthState fetches and deletes the record in one statement.
	// Returns ErrNotFound if the state was never stored or already used;
	// the one-time property of state tokens rests on this being atomic.
	ConsumeOAuthState(ctx context.Context, id string) (domain.OAuthState, error)

	DeleteExpiredOAuthStates(ctx context.Context) error
}

type OAuthLinks interface {
	GetOAuthLink(ctx context.Context, provider domain.OAuthProvider, providerUserID string) (domain.OAuthLink, error)
	ListUserOAuthLinks(ctx context.Context, userID string) ([]domain.OAuthLink, error)

	// UpsertOAuthLink creates the link or refreshes its provider tokens.
	UpsertOAuthLink(ctx context.Context, l domain.OAuthLink) error
	DeleteOAuthLink(ctx context.Context, userID string, provider domain.OAuthProvider) error
}

type Verifications interface {
	CreateVerification(ctx context.Context, v domain.Verification) error
	GetLatestVerification(ctx context.Context, userID string, channel domain.VerificationChannel) (domain.Verification, error)
	GetVerificationByResetTokenHash(ctx context.Context, hash string) (domain.Verification, error)

	// IncrementVerificationAttempts bumps the counter and returns the new
	// value; drivers do this in one statement so concurrent guesses are
	// all counted.
	IncrementVerificationAttempts(ctx context.Context, id string) (int, error)

	MarkVerificationVerified(ctx context.Context, id string, verifiedAt time.Time) error
	AttachResetTokenHash(ctx context.Context, id string, hash string) error

	// ConsumeVerification invalidates the record after a completed reset.
	ConsumeVerification(ctx context.Context, id string) error
	DeleteUserVerifications(ctx context.Context, userID string, channel domain.VerificationChannel) error
	DeleteExpiredVerifications(ctx context.Context) error
}
