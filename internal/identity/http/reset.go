package http

import (
	"net/http"

	"github.com/lumehq/identity/pkg/httpx"
)

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetConfirmRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

// handleResetRequest always answers 202 with the same body; whether the
// account exists is not observable here.
func (rt *router) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := rt.deps.Reset.Request(r.Context(), req.Email); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists for this address, a code has been sent.",
	})
}

func (rt *router) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	token, err := rt.deps.Reset.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"reset_token": token})
}

func (rt *router) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if err := rt.deps.Reset.Reset(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		httpx.WriteError(w, err)
		return
	}
	rt.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
