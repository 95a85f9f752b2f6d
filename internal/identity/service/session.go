package service

import (
	"context"
	"errors"
	"time"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/idx"
	"github.com/lumehq/identity/pkg/jwtx"
)

// SessionConfig carries the token lifetimes. Zero values fall back to the
// defaults below.
type SessionConfig struct {
	AccessTTL  time.Duration
	SessionTTL time.Duration
}

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultSessionTTL = 30 * 24 * time.Hour
)

// SessionService is the single place tokens are minted. Password login, MFA
// completion and OAuth callbacks all converge here.
type SessionService struct {
	store      store.Store
	codec      *jwtx.Codec
	accessTTL  time.Duration
	sessionTTL time.Duration
}

func NewSessionService(st store.Store, codec *jwtx.Codec, cfg SessionConfig) *SessionService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &SessionService{
		store:      st,
		codec:      codec,
		accessTTL:  cfg.AccessTTL,
		sessionTTL: cfg.SessionTTL,
	}
}

// Create mints a session and its token pair. The access token binds the
// refresh token's fingerprint so a stolen access token cannot outlive the
// rotation it was minted in.
func (s *SessionService) Create(ctx context.Context, userID string, t domain.SessionType, ip, ua string) (domain.Session, domain.TokenPair, error) {
	if !t.Valid() {
		return domain.Session{}, domain.TokenPair{}, apperr.BadRequest("Invalid session type.")
	}

	sessionID := idx.New().String()
	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to generate refresh token.", err)
	}
	refreshFP := cryptox.FingerprintToken(refresh)

	now := time.Now().UTC()
	access, err := s.codec.Sign(jwtx.NewAccessClaims(userID, sessionID, string(t), refreshFP, s.accessTTL, s.codec.Issuer(), now))
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to sign access token.", err)
	}

	session := domain.Session{
		ID:               sessionID,
		UserID:           userID,
		Type:             t,
		AccessTokenHash:  cryptox.FingerprintToken(access),
		RefreshTokenHash: refreshFP,
		ExpiresAt:        now.Add(s.sessionTTL),
		IPAddress:        ip,
		UserAgent:        ua,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Sessions().CreateSession(ctx, session); err != nil {
		return domain.Session{}, domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to persist session.", err)
	}

	return session, domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.accessTTL,
	}, nil
}

// Refresh rotates the token pair. The swap is a single conditional update
// keyed on the old refresh fingerprint, so of two concurrent refreshes with
// the same token exactly one wins; the loser sees zero rows and gets
// Unauthorized.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, ip, ua string) (domain.TokenPair, error) {
	session, err := s.lookupByRefresh(ctx, refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	newRefresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to generate refresh token.", err)
	}
	newRefreshFP := cryptox.FingerprintToken(newRefresh)

	now := time.Now().UTC()
	access, err := s.codec.Sign(jwtx.NewAccessClaims(session.UserID, session.ID, string(session.Type), newRefreshFP, s.accessTTL, s.codec.Issuer(), now))
	if err != nil {
		return domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to sign access token.", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Sessions().RotateSessionTokens(ctx,
			session.RefreshTokenHash,
			cryptox.FingerprintToken(access),
			newRefreshFP,
			now.Add(s.sessionTTL),
		)
	})
	if errors.Is(err, store.ErrNotFound) {
		// Another rotation already consumed this refresh token.
		return domain.TokenPair{}, apperr.Unauthorized("Refresh token is no longer valid.")
	}
	if err != nil {
		return domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to rotate session.", err)
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.accessTTL,
	}, nil
}

// Recover re-issues an access token without rotating the refresh token or
// extending the session. Used for silent reloads.
func (s *SessionService) Recover(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	session, err := s.lookupByRefresh(ctx, refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	now := time.Now().UTC()
	access, err := s.codec.Sign(jwtx.NewAccessClaims(session.UserID, session.ID, string(session.Type), session.RefreshTokenHash, s.accessTTL, s.codec.Issuer(), now))
	if err != nil {
		return domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to sign access token.", err)
	}

	if err := s.store.Sessions().UpdateAccessTokenHash(ctx, session.RefreshTokenHash, cryptox.FingerprintToken(access)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, apperr.Unauthorized("Refresh token is no longer valid.")
		}
		return domain.TokenPair{}, apperr.Wrap(apperr.CodeInternal, "Failed to update session.", err)
	}

	return domain.TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   s.accessTTL,
	}, nil
}

// CheckAccess confirms a verified access token still matches a live session
// row. A token minted before the last rotation, or for a logged-out session,
// fails here even though its signature has not expired.
func (s *SessionService) CheckAccess(ctx context.Context, sessionID, accessToken string) error {
	session, err := s.store.Sessions().GetSessionByAccessHash(ctx, cryptox.FingerprintToken(accessToken))
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Unauthorized("Access token is no longer valid.")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to load session.", err)
	}
	if session.ID != sessionID || time.Now().UTC().After(session.ExpiresAt) {
		return apperr.Unauthorized("Access token is no longer valid.")
	}
	return nil
}

// Invalidate removes the session identified by sid (logout).
func (s *SessionService) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.store.Sessions().DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.CodeInternal, "Failed to delete session.", err)
	}
	return nil
}

// InvalidateAll removes every session for the user (global logout, password
// reset).
func (s *SessionService) InvalidateAll(ctx context.Context, userID string) error {
	if _, err := s.store.Sessions().DeleteUserSessions(ctx, userID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to delete sessions.", err)
	}
	return nil
}

// Upgrade flips an ONBOARDING session to CLOUD in place, keeping the session
// id and tokens, and drops the user's other ONBOARDING sessions.
func (s *SessionService) Upgrade(ctx context.Context, userID, sessionID string) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Sessions().UpgradeSessionType(ctx, sessionID, domain.SessionCloud); err != nil {
			return err
		}
		return tx.Sessions().DeleteUserSessionsByTypeExcept(ctx, userID, domain.SessionOnboarding, sessionID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Session not found.")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to upgrade session.", err)
	}
	return nil
}

// ListActive returns the user's live sessions, lazily deleting any that
// expired since the last sweep.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.store.Sessions().ListUserSessions(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to list sessions.", err)
	}

	now := time.Now().UTC()
	active := sessions[:0]
	for _, session := range sessions {
		if now.After(session.ExpiresAt) {
			_ = s.store.Sessions().DeleteSession(ctx, session.ID)
			continue
		}
		active = append(active, session)
	}
	return active, nil
}

// Revoke deletes one of the user's other sessions by id. Revoking the
// session making the call is a BadRequest; that path is logout.
func (s *SessionService) Revoke(ctx context.Context, userID, currentSessionID, targetSessionID string) error {
	if targetSessionID == currentSessionID {
		return apperr.BadRequest("Cannot revoke the current session. Use logout instead.")
	}

	sessions, err := s.store.Sessions().ListUserSessions(ctx, userID)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to list sessions.", err)
	}
	for _, session := range sessions {
		if session.ID == targetSessionID {
			return s.Invalidate(ctx, targetSessionID)
		}
	}
	return apperr.NotFound("Session not found.")
}

// lookupByRefresh resolves a presented refresh token, deleting the session
// on the way out when it has expired (lazy GC).
func (s *SessionService) lookupByRefresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	if refreshToken == "" {
		return domain.Session{}, apperr.Unauthorized("Missing refresh token.")
	}

	session, err := s.store.Sessions().GetSessionByRefreshHash(ctx, cryptox.FingerprintToken(refreshToken))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, apperr.Unauthorized("Refresh token is no longer valid.")
	}
	if err != nil {
		return domain.Session{}, apperr.Wrap(apperr.CodeInternal, "Failed to load session.", err)
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.store.Sessions().DeleteSession(ctx, session.ID)
		return domain.Session{}, apperr.Unauthorized("Session expired. Sign in again.")
	}
	return session, nil
}
