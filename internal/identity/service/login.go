package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/idx"
)

const minPasswordLength = 8

// invalidCredentialsMsg is shared by every primary-auth failure path so an
// attacker cannot tell a missing account from a wrong password.
const invalidCredentialsMsg = "Invalid email or password."

// MFARequiredError is returned by Login when the password checked out but a
// second factor must still be presented. It carries everything the client
// needs to drive the challenge.
type MFARequiredError struct {
	Challenge domain.MFARequiredResponse
}

func (e *MFARequiredError) Error() string { return "mfa required" }

// LoginService owns primary authentication: signup and password login.
type LoginService struct {
	store         store.Store
	sessions      *SessionService
	challenges    *ChallengeService
	verifications *VerificationService
}

func NewLoginService(st store.Store, sessions *SessionService, challenges *ChallengeService, verifications *VerificationService) *LoginService {
	return &LoginService{
		store:         st,
		sessions:      sessions,
		challenges:    challenges,
		verifications: verifications,
	}
}

// Signup creates the account and an ONBOARDING session, and queues the
// email-verification OTP.
func (s *LoginService) Signup(ctx context.Context, email, password, name, ip, ua string) (domain.User, domain.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, domain.TokenPair{}, apperr.BadRequest("A valid email address is required.")
	}
	if len(password) < minPasswordLength {
		return domain.User{}, domain.TokenPair{}, apperr.BadRequest("Password must be at least 8 characters.")
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to hash password.", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: &hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, domain.TokenPair{}, apperr.Conflict("An account with this email already exists.")
		}
		return domain.User{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to create account.", err)
	}

	if _, err := s.verifications.Create(ctx, user.ID, domain.ChannelEmail, email); err != nil {
		return domain.User{}, domain.TokenPair{}, err
	}

	_, pair, err := s.sessions.Create(ctx, user.ID, domain.SessionOnboarding, ip, ua)
	if err != nil {
		return domain.User{}, domain.TokenPair{}, err
	}
	return user, pair, nil
}

// Login verifies the password and either mints a session or, when a second
// factor is active, returns *MFARequiredError carrying the challenge.
func (s *LoginService) Login(ctx context.Context, email, password, ip, ua string) (domain.User, domain.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a hash comparison so the miss takes as long as a wrong
		// password would.
		_ = cryptox.VerifyPassword(password, dummyPasswordHash)
		return domain.User{}, domain.TokenPair{}, apperr.Unauthorized(invalidCredentialsMsg)
	}
	if err != nil {
		return domain.User{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}
	if !user.HasPassword() {
		_ = cryptox.VerifyPassword(password, dummyPasswordHash)
		return domain.User{}, domain.TokenPair{}, apperr.Unauthorized(invalidCredentialsMsg)
	}
	if err := cryptox.VerifyPassword(password, *user.PasswordHash); err != nil {
		return domain.User{}, domain.TokenPair{}, apperr.Unauthorized(invalidCredentialsMsg)
	}

	sessionType := domain.SessionOnboarding
	if user.OnboardingComplete {
		sessionType = domain.SessionCloud
	}

	challenge, err := s.challenges.CreateChallenge(ctx, user, sessionType, ip, ua)
	if err != nil {
		return domain.User{}, domain.TokenPair{}, err
	}
	if challenge != nil {
		return domain.User{}, domain.TokenPair{}, &MFARequiredError{Challenge: *challenge}
	}

	_, pair, err := s.sessions.Create(ctx, user.ID, sessionType, ip, ua)
	if err != nil {
		return domain.User{}, domain.TokenPair{}, err
	}
	return user, pair, nil
}

// CompleteOnboarding marks the account onboarded and upgrades the calling
// session to CLOUD, dropping any sibling ONBOARDING sessions.
func (s *LoginService) CompleteOnboarding(ctx context.Context, userID, sessionID string) error {
	if err := s.store.Users().MarkOnboardingComplete(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Account not found.")
		}
		return apperr.Wrap(apperr.CodeInternal, "Failed to update account.", err)
	}
	return s.sessions.Upgrade(ctx, userID, sessionID)
}

// VerifyEmail validates the signup OTP and flips the email-verified flag.
func (s *LoginService) VerifyEmail(ctx context.Context, userID, code string) error {
	if _, err := s.verifications.Validate(ctx, userID, domain.ChannelEmail, code); err != nil {
		return err
	}
	if err := s.store.Users().MarkEmailVerified(ctx, userID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to update account.", err)
	}
	return nil
}

// dummyPasswordHash is compared against on account-miss paths. The password
// behind it is random and discarded at startup.
var dummyPasswordHash = func() string {
	h, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize128))
	if err != nil {
		panic(err)
	}
	return h
}()
