package service

import (
	"context"
	"testing"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSessionCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})

	session, pair, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Equal(t, domain.SessionCloud, session.Type)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)

	t.Run("access token binds session and refresh fingerprint", func(t *testing.T) {
		claims, err := e.codec.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, user.ID, claims.Subject)
		require.Equal(t, session.ID, claims.SID)
		require.Equal(t, "CLOUD", claims.SessionType)
		require.Equal(t, cryptox.FingerprintToken(pair.RefreshToken), claims.RefreshFP)
	})

	t.Run("stored row holds hashes, not tokens", func(t *testing.T) {
		stored, err := e.store.Sessions().GetSessionByRefreshHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
		require.NoError(t, err)
		require.NotEqual(t, pair.RefreshToken, stored.RefreshTokenHash)
		require.NotEqual(t, pair.AccessToken, stored.AccessTokenHash)
		require.Equal(t, "203.0.113.7", stored.IPAddress)
	})

	t.Run("rejects unknown session type", func(t *testing.T) {
		_, _, err := e.sessions.Create(ctx, user.ID, domain.SessionType("ADMIN"), "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})
}

func TestSessionRefreshRotation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})

	_, pair, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
	require.NoError(t, err)

	rotated, err := e.sessions.Refresh(ctx, pair.RefreshToken, "", "")
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	require.NotEqual(t, pair.AccessToken, rotated.AccessToken)

	t.Run("old refresh token is single-use", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, pair.RefreshToken, "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})

	t.Run("rotated token keeps working", func(t *testing.T) {
		again, err := e.sessions.Refresh(ctx, rotated.RefreshToken, "", "")
		require.NoError(t, err)
		require.NotEmpty(t, again.RefreshToken)
	})

	t.Run("unknown token fails", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, "made-up-token", "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})
}

func TestSessionRecover(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})

	session, pair, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
	require.NoError(t, err)

	recovered, err := e.sessions.Recover(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, recovered.AccessToken)
	require.Empty(t, recovered.RefreshToken, "recover must not rotate the refresh token")

	t.Run("refresh token still valid after recover", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, pair.RefreshToken, "", "")
		require.NoError(t, err)
	})

	t.Run("session expiry unchanged", func(t *testing.T) {
		// Recover must not extend lifetime; the row still expires when the
		// original session does.
		stored, err := e.store.Sessions().ListUserSessions(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		require.WithinDuration(t, session.ExpiresAt, stored[0].ExpiresAt, 2*time.Second)
	})
}

func TestSessionExpiryLazyGC(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})

	// Insert an already-expired session directly.
	refresh := cryptox.MustGenerateToken(cryptox.TokenSize256)
	expired := domain.Session{
		ID:               "01EXPIRED0000000000000000X",
		UserID:           user.ID,
		Type:             domain.SessionCloud,
		AccessTokenHash:  cryptox.FingerprintToken("access"),
		RefreshTokenHash: cryptox.FingerprintToken(refresh),
		ExpiresAt:        time.Now().UTC().Add(-time.Hour),
		CreatedAt:        time.Now().UTC().Add(-2 * time.Hour),
		UpdatedAt:        time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, e.store.Sessions().CreateSession(ctx, expired))

	_, err := e.sessions.Refresh(ctx, refresh, "", "")
	require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

	// Detecting the expiry deletes the stale row.
	sessions, err := e.store.Sessions().ListUserSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestSessionInvalidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})

	session, pair, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
	require.NoError(t, err)

	require.NoError(t, e.sessions.Invalidate(ctx, session.ID))

	_, err = e.sessions.Refresh(ctx, pair.RefreshToken, "", "")
	require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

	t.Run("invalidate all", func(t *testing.T) {
		_, p1, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
		require.NoError(t, err)
		_, p2, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
		require.NoError(t, err)

		require.NoError(t, e.sessions.InvalidateAll(ctx, user.ID))

		_, err = e.sessions.Refresh(ctx, p1.RefreshToken, "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
		_, err = e.sessions.Refresh(ctx, p2.RefreshToken, "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})
}

func TestSessionUpgrade(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{notOnboarded: true})

	keep, _, err := e.sessions.Create(ctx, user.ID, domain.SessionOnboarding, "", "")
	require.NoError(t, err)
	sibling, _, err := e.sessions.Create(ctx, user.ID, domain.SessionOnboarding, "", "")
	require.NoError(t, err)

	require.NoError(t, e.sessions.Upgrade(ctx, user.ID, keep.ID))

	sessions, err := e.sessions.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, keep.ID, sessions[0].ID, "sibling %s should be gone", sibling.ID)
	require.Equal(t, domain.SessionCloud, sessions[0].Type)
}

func TestSessionRevoke(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})
	other := e.createUser(t, "bob@example.com", "password-123", userOpts{})

	current, _, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
	require.NoError(t, err)
	target, _, err := e.sessions.Create(ctx, user.ID, domain.SessionCloud, "", "")
	require.NoError(t, err)
	foreign, _, err := e.sessions.Create(ctx, other.ID, domain.SessionCloud, "", "")
	require.NoError(t, err)

	t.Run("revoking the current session is rejected", func(t *testing.T) {
		err := e.sessions.Revoke(ctx, user.ID, current.ID, current.ID)
		require.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})

	t.Run("revoking another user's session is not found", func(t *testing.T) {
		err := e.sessions.Revoke(ctx, user.ID, current.ID, foreign.ID)
		require.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})

	t.Run("revoking an own sibling succeeds", func(t *testing.T) {
		require.NoError(t, e.sessions.Revoke(ctx, user.ID, current.ID, target.ID))

		sessions, err := e.sessions.ListActive(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		require.Equal(t, current.ID, sessions[0].ID)
	})
}
