package http

import (
	"io"
	"net/http"

	"github.com/lumehq/identity/pkg/apperr"
	"github.com/lumehq/identity/pkg/httpx"
)

type totpConfirmRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (rt *router) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.deps.MFA.StartTOTPEnroll(r.Context(), httpx.UserIDFromContext(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (rt *router) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	var req totpConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	codes, err := rt.deps.MFA.ConfirmTOTP(r.Context(), httpx.UserIDFromContext(r.Context()), req.Code)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (rt *router) handlePasskeyEnroll(w http.ResponseWriter, r *http.Request) {
	opts, err := rt.deps.MFA.StartPasskeyEnroll(r.Context(), httpx.UserIDFromContext(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, opts)
}

func (rt *router) handlePasskeyConfirm(w http.ResponseWriter, r *http.Request) {
	raw, err := readRawBody(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	codes, err := rt.deps.MFA.ConfirmPasskey(r.Context(), httpx.UserIDFromContext(r.Context()), raw)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (rt *router) handleDisableMFA(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.MFA.Disable(r.Context(), httpx.UserIDFromContext(r.Context())); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := rt.deps.MFA.RegenerateBackupCodes(r.Context(), httpx.UserIDFromContext(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// readRawBody returns the raw body for WebAuthn payloads, which the engine
// parses itself. 64 KiB is generous for an attestation.
func readRawBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return nil, apperr.BadRequest("Malformed request body.")
	}
	return raw, nil
}
