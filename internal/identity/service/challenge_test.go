package service

import (
	"context"
	"testing"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func currentTOTPCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// issueChallenge runs a password login and returns the pending challenge id.
func issueChallenge(t *testing.T, e *env, email, password string) string {
	t.Helper()
	_, _, err := e.login.Login(context.Background(), email, password, "", "")
	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)
	return mfaErr.Challenge.ChallengeID
}

func TestCreateChallenge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("nil when no second factor is configured", func(t *testing.T) {
		user := e.createUser(t, "plain@example.com", "password-123", userOpts{})
		challenge, err := e.challenges.CreateChallenge(ctx, user, domain.SessionCloud, "", "")
		require.NoError(t, err)
		require.Nil(t, challenge)
	})

	t.Run("totp user gets totp, sms only with verified phone", func(t *testing.T) {
		user := e.createUser(t, "nophone@example.com", "password-123", userOpts{})
		e.enrollTOTP(t, user.ID)

		challenge, err := e.challenges.CreateChallenge(ctx, user, domain.SessionCloud, "", "")
		require.NoError(t, err)
		require.NotNil(t, challenge)
		require.Equal(t, []string{domain.ChallengeTOTP}, challenge.AvailableMethods)
	})

	t.Run("challenge id is not a session id", func(t *testing.T) {
		user := e.createUser(t, "withmfa@example.com", "password-123", userOpts{})
		e.enrollTOTP(t, user.ID)

		challenge, err := e.challenges.CreateChallenge(ctx, user, domain.SessionCloud, "", "")
		require.NoError(t, err)

		sessions, err := e.sessions.ListActive(ctx, user.ID)
		require.NoError(t, err)
		for _, s := range sessions {
			require.NotEqual(t, s.ID, challenge.ChallengeID)
		}
	})
}

func TestVerifyTOTPChallenge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})
	secret, _ := e.enrollTOTP(t, user.ID)

	t.Run("valid code mints a session and consumes the challenge", func(t *testing.T) {
		id := issueChallenge(t, e, "alice@example.com", "password-123")

		session, pair, err := e.challenges.VerifyTOTP(ctx, id, currentTOTPCode(t, secret))
		require.NoError(t, err)
		require.Equal(t, user.ID, session.UserID)
		require.Equal(t, domain.SessionCloud, session.Type)
		require.NotEmpty(t, pair.RefreshToken)

		// The challenge is gone; a second verification cannot reuse it.
		_, _, err = e.challenges.VerifyTOTP(ctx, id, currentTOTPCode(t, secret))
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})

	t.Run("wrong code leaves the challenge intact", func(t *testing.T) {
		id := issueChallenge(t, e, "alice@example.com", "password-123")

		_, _, err := e.challenges.VerifyTOTP(ctx, id, "000000")
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

		// Retry with the right code still works.
		_, _, err = e.challenges.VerifyTOTP(ctx, id, currentTOTPCode(t, secret))
		require.NoError(t, err)
	})

	t.Run("attempt cap destroys the challenge", func(t *testing.T) {
		id := issueChallenge(t, e, "alice@example.com", "password-123")

		for i := 0; i < maxChallengeAttempts; i++ {
			_, _, err := e.challenges.VerifyTOTP(ctx, id, "000000")
			require.Error(t, err)
		}

		// Even a correct code is too late now.
		_, _, err := e.challenges.VerifyTOTP(ctx, id, currentTOTPCode(t, secret))
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})

	t.Run("unknown challenge id", func(t *testing.T) {
		_, _, err := e.challenges.VerifyTOTP(ctx, "no-such-challenge", currentTOTPCode(t, secret))
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})
}

func TestBackupCodeFallback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})
	_, backupCodes := e.enrollTOTP(t, user.ID)

	id := issueChallenge(t, e, "alice@example.com", "password-123")

	_, pair, err := e.challenges.VerifyTOTP(ctx, id, backupCodes[0])
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)

	t.Run("spent backup code is single-use", func(t *testing.T) {
		id := issueChallenge(t, e, "alice@example.com", "password-123")

		_, _, err := e.challenges.VerifyTOTP(ctx, id, backupCodes[0])
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

		// A different code from the set still works.
		_, _, err = e.challenges.VerifyTOTP(ctx, id, backupCodes[1])
		require.NoError(t, err)
	})
}

func TestSMSChallenge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{phone: "+61455550189"})
	e.enrollTOTP(t, user.ID)

	id := issueChallenge(t, e, "alice@example.com", "password-123")

	maskedPhone, err := e.challenges.SendSMSOTP(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "**********89", maskedPhone)

	code := e.waitOTP(t)
	require.Len(t, code, 6)

	session, pair, err := e.challenges.VerifySMSOTP(ctx, id, code)
	require.NoError(t, err)
	require.Equal(t, user.ID, session.UserID)
	require.NotEmpty(t, pair.AccessToken)

	t.Run("sms not offered without a verified phone", func(t *testing.T) {
		other := e.createUser(t, "nophone@example.com", "password-123", userOpts{})
		e.enrollTOTP(t, other.ID)
		id := issueChallenge(t, e, "nophone@example.com", "password-123")

		_, err := e.challenges.SendSMSOTP(ctx, id)
		require.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})
}

func TestPasskeyChallengeStart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})

	require.NoError(t, e.store.MFAAuths().UpsertMFAAuth(ctx, domain.MFAAuth{
		UserID:              user.ID,
		Method:              domain.MethodPasskey,
		IsActive:            true,
		IsConfirmed:         true,
		PasskeyCredentialID: []byte("credential-1"),
		PasskeyPublicKey:    []byte("public-key"),
	}))

	id := issueChallenge(t, e, "alice@example.com", "password-123")

	opts, err := e.challenges.StartPasskey(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, opts.Response.Challenge)
	require.Len(t, opts.Response.AllowedCredentials, 1)
	require.Equal(t, []byte("credential-1"), []byte(opts.Response.AllowedCredentials[0].CredentialID))

	t.Run("garbage assertion is rejected", func(t *testing.T) {
		_, _, err := e.challenges.VerifyPasskey(ctx, id, []byte("not-json"))
		require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	})
}

func TestChallengeExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := e.createUser(t, "alice@example.com", "password-123", userOpts{})
	secret, _ := e.enrollTOTP(t, user.ID)

	id := issueChallenge(t, e, "alice@example.com", "password-123")

	// Drop the cached record to simulate TTL elapse.
	require.NoError(t, e.challenges.Abandon(ctx, id))

	_, _, err := e.challenges.VerifyTOTP(ctx, id, currentTOTPCode(t, secret))
	require.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
}
