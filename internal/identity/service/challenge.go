package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"github.com/lumehq/identity/internal/identity/cache"
	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/slogx"
	"github.com/lumehq/identity/pkg/totpx"
	"github.com/lumehq/identity/pkg/webauthnx"
)

const (
	mfaChallengeTTL         = 5 * time.Minute
	maxChallengeAttempts    = 5
	challengeKeyPrefix      = "mfa:"
	challengeFailureMessage = "Verification failed."
)

// ChallengeService orchestrates the second-factor step between password
// verification and session creation. Challenges live only in the TTL cache,
// are reachable by a random id unrelated to any session id, and are
// consumed exactly once on success.
type ChallengeService struct {
	store         store.Store
	cache         cache.Store
	sessions      *SessionService
	verifications *VerificationService
	webauthn      *webauthnx.Engine
}

func NewChallengeService(st store.Store, ch cache.Store, sessions *SessionService, verifications *VerificationService, wa *webauthnx.Engine) *ChallengeService {
	return &ChallengeService{
		store:         st,
		cache:         ch,
		sessions:      sessions,
		verifications: verifications,
		webauthn:      wa,
	}
}

// CreateChallenge inspects the user's second-factor configuration and, when
// one is active, issues a challenge. A nil response with nil error means no
// second factor is needed and the caller should mint the session directly.
func (s *ChallengeService) CreateChallenge(ctx context.Context, user domain.User, sessionType domain.SessionType, ip, ua string) (*domain.MFARequiredResponse, error) {
	auth, err := s.store.MFAAuths().GetActiveMFAAuth(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load MFA configuration.", err)
	}

	var methods []string
	switch auth.Method {
	case domain.MethodTOTP:
		methods = append(methods, domain.ChallengeTOTP)
		if user.Phone != nil && user.PhoneVerified {
			methods = append(methods, domain.ChallengeSMS)
		}
	case domain.MethodPasskey:
		methods = append(methods, domain.ChallengePasskey)
	}
	if len(methods) == 0 {
		// An active record with no usable method is a data integrity
		// problem; warn and fall back to primary auth rather than locking
		// the user out.
		slogx.FromContext(ctx).Warn("active mfa record offers no methods",
			slog.String("user_id", user.ID),
			slog.String("method", string(auth.Method)),
		)
		return nil, nil
	}

	challenge := domain.MFAChallenge{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		AvailableMethods: methods,
		DefaultMethod:    methods[0],
		MaskedPhone:      user.MaskedPhone(),
		SessionType:      sessionType,
		IPAddress:        ip,
		UserAgent:        ua,
		ExpiresAt:        time.Now().UTC().Add(mfaChallengeTTL),
	}
	if err := s.putChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	return &domain.MFARequiredResponse{
		RequiresMFA:      true,
		ChallengeID:      challenge.ID,
		AvailableMethods: challenge.AvailableMethods,
		DefaultMethod:    challenge.DefaultMethod,
		MaskedPhone:      challenge.MaskedPhone,
	}, nil
}

// VerifyTOTP checks a 6-digit code against the enrolled TOTP secret, falling
// back to the backup codes when the code does not match a time step. A spent
// backup code is removed before the session is minted.
func (s *ChallengeService) VerifyTOTP(ctx context.Context, challengeID, code string) (domain.Session, domain.TokenPair, error) {
	challenge, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, err
	}
	if !challenge.Offers(domain.ChallengeTOTP) {
		return domain.Session{}, domain.TokenPair{}, apperr.BadRequest("TOTP is not available for this challenge.")
	}

	auth, err := s.store.MFAAuths().GetMFAAuth(ctx, challenge.UserID, domain.MethodTOTP)
	if err != nil || !auth.IsActive || auth.TOTPSecret == nil {
		return domain.Session{}, domain.TokenPair{}, s.recordFailure(ctx, challenge)
	}

	if !totpx.Verify(code, *auth.TOTPSecret) {
		ok, remaining := cryptox.ConsumeBackupCode(code, auth.TOTPBackupCodes)
		if !ok {
			return domain.Session{}, domain.TokenPair{}, s.recordFailure(ctx, challenge)
		}
		if err := s.store.MFAAuths().UpdateBackupCodes(ctx, challenge.UserID, domain.MethodTOTP, remaining); err != nil {
			return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to consume backup code.", err)
		}
	}

	return s.complete(ctx, challenge, domain.MethodTOTP)
}

// SendSMSOTP dispatches a one-time code to the verified phone bound to the
// challenge's user.
func (s *ChallengeService) SendSMSOTP(ctx context.Context, challengeID string) (string, error) {
	challenge, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return "", err
	}
	if !challenge.Offers(domain.ChallengeSMS) {
		return "", apperr.BadRequest("SMS is not available for this challenge.")
	}

	user, err := s.store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}
	if user.Phone == nil || !user.PhoneVerified {
		return "", apperr.BadRequest("No verified phone on record.")
	}

	if _, err := s.verifications.Create(ctx, user.ID, domain.ChannelSMS, *user.Phone); err != nil {
		return "", err
	}
	return user.MaskedPhone(), nil
}

// VerifySMSOTP validates the SMS code and completes the challenge.
func (s *ChallengeService) VerifySMSOTP(ctx context.Context, challengeID, code string) (domain.Session, domain.TokenPair, error) {
	challenge, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, err
	}
	if !challenge.Offers(domain.ChallengeSMS) {
		return domain.Session{}, domain.TokenPair{}, apperr.BadRequest("SMS is not available for this challenge.")
	}

	if _, err := s.verifications.Validate(ctx, challenge.UserID, domain.ChannelSMS, code); err != nil {
		return domain.Session{}, domain.TokenPair{}, s.recordFailure(ctx, challenge)
	}

	return s.complete(ctx, challenge, domain.MethodTOTP)
}

// StartPasskey generates assertion options scoped to the user's registered
// credential and parks the nonce on the challenge.
func (s *ChallengeService) StartPasskey(ctx context.Context, challengeID string) (*protocol.CredentialAssertion, error) {
	challenge, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !challenge.Offers(domain.ChallengePasskey) {
		return nil, apperr.BadRequest("Passkey is not available for this challenge.")
	}

	auth, err := s.store.MFAAuths().GetMFAAuth(ctx, challenge.UserID, domain.MethodPasskey)
	if err != nil || !auth.IsActive || len(auth.PasskeyCredentialID) == 0 {
		return nil, apperr.Unauthorized("No passkey registered.")
	}
	user, err := s.store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}

	opts, nonce, err := s.webauthn.AuthenticationOptions([]byte(user.ID), user.Email, [][]byte{auth.PasskeyCredentialID})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to build passkey options.", err)
	}

	challenge.PasskeyChallenge = nonce
	if err := s.putChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	return opts, nil
}

// VerifyPasskey validates the assertion. The new signature counter is
// persisted before the session is minted so a captured assertion cannot be
// replayed even if session creation fails.
func (s *ChallengeService) VerifyPasskey(ctx context.Context, challengeID string, rawResponse []byte) (domain.Session, domain.TokenPair, error) {
	challenge, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, err
	}
	if !challenge.Offers(domain.ChallengePasskey) {
		return domain.Session{}, domain.TokenPair{}, apperr.BadRequest("Passkey is not available for this challenge.")
	}
	if challenge.PasskeyChallenge == "" {
		return domain.Session{}, domain.TokenPair{}, apperr.BadRequest("Passkey verification was not started.")
	}

	auth, err := s.store.MFAAuths().GetMFAAuth(ctx, challenge.UserID, domain.MethodPasskey)
	if err != nil || !auth.IsActive || len(auth.PasskeyCredentialID) == 0 {
		return domain.Session{}, domain.TokenPair{}, s.recordFailure(ctx, challenge)
	}
	user, err := s.store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}

	newCounter, err := s.webauthn.VerifyAuthentication(rawResponse, challenge.PasskeyChallenge, []byte(user.ID), user.Email, webauthnx.Credential{
		ID:        auth.PasskeyCredentialID,
		PublicKey: auth.PasskeyPublicKey,
		Counter:   auth.PasskeyCounter,
	})
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, s.recordFailure(ctx, challenge)
	}

	if err := s.store.MFAAuths().UpdatePasskeyCounter(ctx, challenge.UserID, newCounter); err != nil {
		return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to update passkey counter.", err)
	}

	return s.complete(ctx, challenge, domain.MethodPasskey)
}

// Abandon deletes a challenge without consuming it (explicit cancel).
func (s *ChallengeService) Abandon(ctx context.Context, challengeID string) error {
	return s.cache.Delete(ctx, challengeKeyPrefix+challengeID)
}

// complete consumes the challenge and mints the session. The consume is the
// cache's atomic get-and-delete: of two racing completions exactly one
// proceeds.
func (s *ChallengeService) complete(ctx context.Context, challenge domain.MFAChallenge, method domain.MFAMethod) (domain.Session, domain.TokenPair, error) {
	if _, err := s.cache.GetDel(ctx, challengeKeyPrefix+challenge.ID); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return domain.Session{}, domain.TokenPair{}, apperr.Unauthorized("Challenge expired or already used. Sign in again.")
		}
		return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to consume challenge.", err)
	}

	if err := s.store.MFAAuths().TouchLastUsed(ctx, challenge.UserID, method); err != nil && !errors.Is(err, store.ErrNotFound) {
		slogx.FromContext(ctx).Warn("failed to record mfa use", slog.String("user_id", challenge.UserID))
	}

	return s.sessions.Create(ctx, challenge.UserID, challenge.SessionType, challenge.IPAddress, challenge.UserAgent)
}

// recordFailure counts a failed verification. The challenge survives until
// the attempt cap so the user may retry or switch methods; at the cap it is
// destroyed and the user must log in again.
func (s *ChallengeService) recordFailure(ctx context.Context, challenge domain.MFAChallenge) error {
	challenge.Attempts++
	if challenge.Attempts >= maxChallengeAttempts {
		_ = s.cache.Delete(ctx, challengeKeyPrefix+challenge.ID)
		return apperr.Unauthorized("Too many failed attempts. Sign in again.")
	}
	if err := s.putChallenge(ctx, challenge); err != nil {
		return err
	}
	return apperr.Unauthorized(challengeFailureMessage)
}

func (s *ChallengeService) getChallenge(ctx context.Context, id string) (domain.MFAChallenge, error) {
	raw, err := s.cache.Get(ctx, challengeKeyPrefix+id)
	if errors.Is(err, cache.ErrNotFound) {
		return domain.MFAChallenge{}, apperr.Unauthorized("Challenge expired or already used. Sign in again.")
	}
	if err != nil {
		return domain.MFAChallenge{}, apperr.Wrap(apperr.CodeInternal, "Failed to load challenge.", err)
	}

	var challenge domain.MFAChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return domain.MFAChallenge{}, apperr.Wrap(apperr.CodeInternal, "Corrupt challenge record.", err)
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		_ = s.cache.Delete(ctx, challengeKeyPrefix+id)
		return domain.MFAChallenge{}, apperr.Unauthorized("Challenge expired. Sign in again.")
	}
	return challenge, nil
}

func (s *ChallengeService) putChallenge(ctx context.Context, challenge domain.MFAChallenge) error {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to encode challenge.", err)
	}
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return apperr.Unauthorized("Challenge expired. Sign in again.")
	}
	if err := s.cache.Set(ctx, challengeKeyPrefix+challenge.ID, raw, ttl); err != nil {
		return apperr.Wrap(apperr.CodeInternal, fmt.Sprintf("Failed to store challenge %s.", challenge.ID), err)
	}
	return nil
}
