package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func TestSignup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user, pair, err := e.login.Signup(ctx, "Alice@Example.com", "password-123", "Alice", "", "")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email, "email is normalized")
	require.NotEmpty(t, pair.AccessToken)

	t.Run("session is ONBOARDING typed", func(t *testing.T) {
		claims, err := e.codec.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "ONBOARDING", claims.SessionType)
	})

	t.Run("verification otp is dispatched", func(t *testing.T) {
		require.Len(t, e.waitOTP(t), 6)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		_, _, err := e.login.Signup(ctx, "alice@example.com", "password-456", "Imposter", "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeConflict))
	})

	t.Run("rejects weak passwords and bad emails", func(t *testing.T) {
		_, _, err := e.login.Signup(ctx, "bob@example.com", "short", "Bob", "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeBadRequest))

		_, _, err = e.login.Signup(ctx, "not-an-email", "password-123", "Bob", "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.createUser(t, "alice@example.com", "password-123", userOpts{})

	t.Run("correct password without MFA yields CLOUD session", func(t *testing.T) {
		user, pair, err := e.login.Login(ctx, "alice@example.com", "password-123", "", "")
		require.NoError(t, err)
		require.NotEmpty(t, user.ID)
		require.NotEmpty(t, pair.RefreshToken)

		claims, err := e.codec.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "CLOUD", claims.SessionType)
	})

	t.Run("failure messages do not distinguish accounts", func(t *testing.T) {
		_, _, errWrongPassword := e.login.Login(ctx, "alice@example.com", "wrong-password", "", "")
		_, _, errUnknownEmail := e.login.Login(ctx, "nobody@example.com", "password-123", "", "")

		require.True(t, apperr.IsCode(errWrongPassword, apperr.CodeUnauthorized))
		require.True(t, apperr.IsCode(errUnknownEmail, apperr.CodeUnauthorized))
		require.Equal(t, apperr.As(errWrongPassword).Message, apperr.As(errUnknownEmail).Message)
	})

	t.Run("oauth-only account cannot password login", func(t *testing.T) {
		e.createUser(t, "oauth-only@example.com", "", userOpts{})
		_, _, err := e.login.Login(ctx, "oauth-only@example.com", "anything-goes", "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})

	t.Run("user without onboarding gets ONBOARDING session", func(t *testing.T) {
		e.createUser(t, "new@example.com", "password-123", userOpts{notOnboarded: true})
		_, pair, err := e.login.Login(ctx, "new@example.com", "password-123", "", "")
		require.NoError(t, err)

		claims, err := e.codec.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "ONBOARDING", claims.SessionType)
	})
}

func TestLoginWithMFA(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{phone: "+61455550189"})
	e.enrollTOTP(t, user.ID)

	_, _, err := e.login.Login(ctx, "alice@example.com", "password-123", "", "")

	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)
	require.True(t, mfaErr.Challenge.RequiresMFA)
	require.NotEmpty(t, mfaErr.Challenge.ChallengeID)
	require.Equal(t, []string{domain.ChallengeTOTP, domain.ChallengeSMS}, mfaErr.Challenge.AvailableMethods)
	require.Equal(t, domain.ChallengeTOTP, mfaErr.Challenge.DefaultMethod)
	require.Equal(t, "**********89", mfaErr.Challenge.MaskedPhone)

	t.Run("wrong password still fails before any challenge", func(t *testing.T) {
		_, _, err := e.login.Login(ctx, "alice@example.com", "wrong-password", "", "")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
		var mfaErr *MFARequiredError
		require.False(t, errors.As(err, &mfaErr))
	})
}

func TestVerifyEmailAndOnboarding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user, pair, err := e.login.Signup(ctx, "alice@example.com", "password-123", "Alice", "", "")
	require.NoError(t, err)
	code := e.waitOTP(t)

	require.NoError(t, e.login.VerifyEmail(ctx, user.ID, code))

	stored, err := e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailVerified)

	claims, err := e.codec.Verify(pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, e.login.CompleteOnboarding(ctx, user.ID, claims.SID))

	stored, err = e.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.OnboardingComplete)

	sessions, err := e.sessions.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, domain.SessionCloud, sessions[0].Type)
}
