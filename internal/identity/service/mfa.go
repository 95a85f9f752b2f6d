package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/totpx"
	"github.com/lumehq/identity/pkg/webauthnx"
)

// MFAService manages second-factor enrollment. A record starts pending and
// becomes active only after the user proves possession; at most one record
// per user is active, enforced at confirmation time.
type MFAService struct {
	store    store.Store
	webauthn *webauthnx.Engine
	issuer   string
}

func NewMFAService(st store.Store, wa *webauthnx.Engine, issuer string) *MFAService {
	return &MFAService{store: st, webauthn: wa, issuer: issuer}
}

// StartTOTPEnroll provisions a fresh secret and stores it on a pending
// record. Restarting enrollment replaces the previous pending secret.
func (s *MFAService) StartTOTPEnroll(ctx context.Context, userID string) (domain.MFAEnrollResponse, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.MFAEnrollResponse{}, apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}

	key, err := totpx.GenerateKey(s.issuer, user.Email)
	if err != nil {
		return domain.MFAEnrollResponse{}, apperr.Wrap(apperr.CodeInternal, "Failed to generate TOTP secret.", err)
	}

	now := time.Now().UTC()
	secret := key.Secret
	if err := s.store.MFAAuths().UpsertMFAAuth(ctx, domain.MFAAuth{
		UserID:     userID,
		Method:     domain.MethodTOTP,
		TOTPSecret: &secret,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return domain.MFAEnrollResponse{}, apperr.Wrap(apperr.CodeInternal, "Failed to store enrollment.", err)
	}

	return domain.MFAEnrollResponse{
		Secret:          key.Secret,
		FormattedSecret: totpx.FormatSecret(key.Secret),
		URI:             key.URI,
		Issuer:          s.issuer,
		Account:         user.Email,
	}, nil
}

// ConfirmTOTP activates the pending TOTP record once the user presents a
// valid code, deactivating any other active method in the same transaction.
// Returns the plaintext backup codes; only their fingerprints are stored and
// they are never shown again.
func (s *MFAService) ConfirmTOTP(ctx context.Context, userID, code string) ([]string, error) {
	auth, err := s.store.MFAAuths().GetMFAAuth(ctx, userID, domain.MethodTOTP)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.BadRequest("TOTP enrollment has not been started.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load enrollment.", err)
	}
	if auth.IsConfirmed {
		return nil, apperr.Conflict("TOTP is already configured.")
	}
	if auth.TOTPSecret == nil || !totpx.Verify(code, *auth.TOTPSecret) {
		return nil, apperr.Unauthorized("Invalid code.")
	}

	codes, err := cryptox.GenerateBackupCodes()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to generate backup codes.", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFAAuths().DeactivateMFAAuths(ctx, userID); err != nil {
			return err
		}
		if err := tx.MFAAuths().ConfirmMFAAuth(ctx, userID, domain.MethodTOTP); err != nil {
			return err
		}
		return tx.MFAAuths().UpdateBackupCodes(ctx, userID, domain.MethodTOTP, cryptox.HashBackupCodes(codes))
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to activate TOTP.", err)
	}
	return codes, nil
}

// StartPasskeyEnroll begins WebAuthn registration. The server-side nonce is
// parked on the pending record; existing credentials are excluded so the
// authenticator does not re-register itself.
func (s *MFAService) StartPasskeyEnroll(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}

	var exclude [][]byte
	if existing, err := s.store.MFAAuths().GetMFAAuth(ctx, userID, domain.MethodPasskey); err == nil && len(existing.PasskeyCredentialID) > 0 {
		exclude = append(exclude, existing.PasskeyCredentialID)
	}

	opts, nonce, err := s.webauthn.RegistrationOptions([]byte(user.ID), user.Email, user.Name, exclude)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to build registration options.", err)
	}

	now := time.Now().UTC()
	if err := s.store.MFAAuths().UpsertMFAAuth(ctx, domain.MFAAuth{
		UserID:           userID,
		Method:           domain.MethodPasskey,
		PendingChallenge: &nonce,
		CreatedAt:        now,
		UpdatedAt:        now,
	}); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to store enrollment.", err)
	}
	return opts, nil
}

// ConfirmPasskey validates the attestation against the pending nonce and
// activates the passkey. Backup codes are issued here too so a lost
// authenticator does not lock the account.
func (s *MFAService) ConfirmPasskey(ctx context.Context, userID string, rawResponse []byte) ([]string, error) {
	auth, err := s.store.MFAAuths().GetMFAAuth(ctx, userID, domain.MethodPasskey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.BadRequest("Passkey enrollment has not been started.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load enrollment.", err)
	}
	if auth.IsConfirmed {
		return nil, apperr.Conflict("A passkey is already configured.")
	}
	if auth.PendingChallenge == nil || *auth.PendingChallenge == "" {
		return nil, apperr.BadRequest("Passkey enrollment has not been started.")
	}

	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load account.", err)
	}

	cred, err := s.webauthn.VerifyRegistration(rawResponse, *auth.PendingChallenge, []byte(user.ID), user.Email, user.Name)
	if err != nil {
		return nil, apperr.Unauthorized("Passkey verification failed.")
	}

	codes, err := cryptox.GenerateBackupCodes()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to generate backup codes.", err)
	}

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFAAuths().DeactivateMFAAuths(ctx, userID); err != nil {
			return err
		}
		auth.PasskeyCredentialID = cred.ID
		auth.PasskeyPublicKey = cred.PublicKey
		auth.PasskeyCounter = cred.Counter
		auth.PasskeyTransports = cred.Transports
		auth.PendingChallenge = nil
		auth.UpdatedAt = now
		if err := tx.MFAAuths().UpsertMFAAuth(ctx, auth); err != nil {
			return err
		}
		if err := tx.MFAAuths().ConfirmMFAAuth(ctx, userID, domain.MethodPasskey); err != nil {
			return err
		}
		return tx.MFAAuths().UpdateBackupCodes(ctx, userID, domain.MethodPasskey, cryptox.HashBackupCodes(codes))
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to activate passkey.", err)
	}
	return codes, nil
}

// Disable removes the user's active second factor.
func (s *MFAService) Disable(ctx context.Context, userID string) error {
	auth, err := s.store.MFAAuths().GetActiveMFAAuth(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("No active MFA method.")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to load MFA configuration.", err)
	}
	if err := s.store.MFAAuths().DeleteMFAAuth(ctx, userID, auth.Method); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to remove MFA method.", err)
	}
	return nil
}

// RegenerateBackupCodes replaces the full backup-code set for the active
// method. Previously issued codes stop working immediately.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	auth, err := s.store.MFAAuths().GetActiveMFAAuth(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("No active MFA method.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load MFA configuration.", err)
	}

	codes, err := cryptox.GenerateBackupCodes()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to generate backup codes.", err)
	}
	if err := s.store.MFAAuths().UpdateBackupCodes(ctx, userID, auth.Method, cryptox.HashBackupCodes(codes)); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to store backup codes.", err)
	}
	return codes, nil
}
