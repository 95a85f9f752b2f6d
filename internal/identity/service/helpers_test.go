package service

import (
	"context"
	"testing"
	"time"

	"github.com/lumehq/identity/internal/identity/cache"
	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store/drivers/sqlite"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/idx"
	"github.com/lumehq/identity/pkg/jwtx"
	"github.com/lumehq/identity/pkg/webauthnx"
	"github.com/stretchr/testify/require"
)

// captureDispatcher records OTPs instead of sending them so tests can
// complete verification flows.
type captureDispatcher struct {
	codes chan string
}

func (d *captureDispatcher) DispatchOTP(_ context.Context, _ domain.VerificationChannel, _ string, code string) error {
	d.codes <- code
	return nil
}

type env struct {
	store         *sqlite.Store
	cache         *cache.Memory
	codec         *jwtx.Codec
	sessions      *SessionService
	verifications *VerificationService
	challenges    *ChallengeService
	login         *LoginService
	mfa           *MFAService
	reset         *ResetService
	otps          chan string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	codec, err := jwtx.NewCodec("test-issuer", "")
	require.NoError(t, err)

	wa, err := webauthnx.New(webauthnx.Config{
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
		RPDisplayName: "Test",
	})
	require.NoError(t, err)

	mem := cache.NewMemory()
	otps := make(chan string, 8)

	sessions := NewSessionService(st, codec, SessionConfig{AccessTTL: time.Minute, SessionTTL: time.Hour})
	verifications := NewVerificationService(st, &captureDispatcher{codes: otps})
	challenges := NewChallengeService(st, mem, sessions, verifications, wa)

	return &env{
		store:         st,
		cache:         mem,
		codec:         codec,
		sessions:      sessions,
		verifications: verifications,
		challenges:    challenges,
		login:         NewLoginService(st, sessions, challenges, verifications),
		mfa:           NewMFAService(st, wa, "test-issuer"),
		reset:         NewResetService(st, sessions, verifications),
		otps:          otps,
	}
}

// waitOTP waits for the async dispatcher to be handed a code.
func (e *env) waitOTP(t *testing.T) string {
	t.Helper()
	select {
	case code := <-e.otps:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("no OTP dispatched")
		return ""
	}
}

type userOpts struct {
	phone        string
	unverified   bool
	notOnboarded bool
}

func (e *env) createUser(t *testing.T, email, password string, opts userOpts) domain.User {
	t.Helper()

	now := time.Now().UTC()
	user := domain.User{
		ID:                 idx.New().String(),
		Email:              email,
		Name:               "Test User",
		EmailVerified:      !opts.unverified,
		OnboardingComplete: !opts.notOnboarded,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if password != "" {
		hash, err := cryptox.HashPassword(password)
		require.NoError(t, err)
		user.PasswordHash = &hash
	}
	if opts.phone != "" {
		user.Phone = &opts.phone
		user.PhoneVerified = true
	}
	require.NoError(t, e.store.Users().CreateUser(context.Background(), user))
	return user
}

// enrollTOTP activates TOTP for the user and returns the secret and the
// plaintext backup codes.
func (e *env) enrollTOTP(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enroll, err := e.mfa.StartTOTPEnroll(ctx, userID)
	require.NoError(t, err)

	codes, err := e.mfa.ConfirmTOTP(ctx, userID, currentTOTPCode(t, enroll.Secret))
	require.NoError(t, err)
	return enroll.Secret, codes
}
