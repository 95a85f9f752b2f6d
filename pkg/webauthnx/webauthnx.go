// Package webauthnx wraps the go-webauthn library into the small passkey
// engine the identity core needs: option generation for registration and
// authentication, and assertion verification with signature-counter replay
// detection.
package webauthnx

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	ErrVerificationFailed = errors.New("webauthnx: verification failed")
	ErrCounterRegression  = errors.New("webauthnx: signature counter did not advance")
)

// challengeTTL bounds how long issued options stay redeemable. The cache
// entry holding the challenge expires on the same schedule.
const challengeTTL = 5 * time.Minute

type Config struct {
	RPID          string   // relying party id, e.g. "lumehq.com"
	RPOrigins     []string // expected browser origins, e.g. "https://app.lumehq.com"
	RPDisplayName string
}

// Credential is the persisted view of a registered passkey.
type Credential struct {
	ID         []byte
	PublicKey  []byte
	Counter    uint32
	Transports []string
}

type Engine struct {
	wa *webauthn.WebAuthn
}

func New(cfg Config) (*Engine, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
		RPDisplayName: cfg.RPDisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthnx: %w", err)
	}
	return &Engine{wa: wa}, nil
}

// RegistrationOptions generates creation options for enrolling a new
// passkey. Platform authenticators are preferred, resident keys preferred,
// user verification required. The returned challenge must be persisted by
// the caller and presented again to VerifyRegistration.
func (e *Engine) RegistrationOptions(
	userID []byte,
	email, displayName string,
	excludeIDs [][]byte,
) (*protocol.CredentialCreation, string, error) {
	user := &waUser{id: userID, name: email, displayName: displayName}

	opts, session, err := e.wa.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationRequired,
		}),
		webauthn.WithExclusions(descriptors(excludeIDs)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("webauthnx: begin registration: %w", err)
	}

	return opts, session.Challenge, nil
}

// VerifyRegistration validates an attestation response against the expected
// challenge and returns the credential fields the caller persists.
func (e *Engine) VerifyRegistration(
	rawResponse []byte,
	expectedChallenge string,
	userID []byte,
	email, displayName string,
) (Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(rawResponse))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	user := &waUser{id: userID, name: email, displayName: displayName}
	session := webauthn.SessionData{
		Challenge:        expectedChallenge,
		UserID:           userID,
		Expires:          time.Now().Add(challengeTTL),
		UserVerification: protocol.VerificationRequired,
	}

	cred, err := e.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	return Credential{
		ID:         cred.ID,
		PublicKey:  cred.PublicKey,
		Counter:    cred.Authenticator.SignCount,
		Transports: transports,
	}, nil
}

// AuthenticationOptions generates assertion options scoped to the given
// credential ids. Transport hints are deliberately omitted so the browser
// does not force a particular UI flow.
func (e *Engine) AuthenticationOptions(
	userID []byte,
	email string,
	allowIDs [][]byte,
) (*protocol.CredentialAssertion, string, error) {
	// BeginLogin refuses users without credentials, so the user adapter
	// carries stubs for the allowed ids.
	creds := make([]webauthn.Credential, 0, len(allowIDs))
	for _, id := range allowIDs {
		creds = append(creds, webauthn.Credential{ID: id})
	}
	user := &waUser{id: userID, name: email, displayName: email, credentials: creds}

	opts, session, err := e.wa.BeginLogin(user,
		webauthn.WithAllowedCredentials(descriptors(allowIDs)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("webauthnx: begin login: %w", err)
	}

	return opts, session.Challenge, nil
}

// VerifyAuthentication validates an assertion response against the expected
// challenge and the stored credential. It returns the new signature counter,
// which callers must persist immediately to close the replay window.
func (e *Engine) VerifyAuthentication(
	rawResponse []byte,
	expectedChallenge string,
	userID []byte,
	email string,
	stored Credential,
) (uint32, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(rawResponse))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	user := &waUser{
		id:          userID,
		name:        email,
		displayName: email,
		credentials: []webauthn.Credential{{
			ID:        stored.ID,
			PublicKey: stored.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: stored.Counter,
			},
		}},
	}

	session := webauthn.SessionData{
		Challenge:            expectedChallenge,
		UserID:               userID,
		AllowedCredentialIDs: [][]byte{stored.ID},
		Expires:              time.Now().Add(challengeTTL),
		UserVerification:     protocol.VerificationPreferred,
	}

	cred, err := e.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if err := VerifyCounter(stored.Counter, cred.Authenticator.SignCount); err != nil {
		return 0, err
	}

	return cred.Authenticator.SignCount, nil
}

// VerifyCounter enforces the replay rule: when both counters are nonzero the
// asserted counter must be strictly greater than the stored one. A zero on
// either side means the authenticator does not implement counters.
func VerifyCounter(stored, asserted uint32) error {
	if stored == 0 || asserted == 0 {
		return nil
	}
	if asserted <= stored {
		return ErrCounterRegression
	}
	return nil
}

func descriptors(ids [][]byte) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: id,
		})
	}
	return out
}

// waUser adapts our user record to the webauthn.User interface.
type waUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return u.id }
func (u *waUser) WebAuthnName() string                       { return u.name }
func (u *waUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
