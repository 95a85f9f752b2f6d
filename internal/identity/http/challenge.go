package http

import (
	"net/http"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/httpx"
)

type challengeCodeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type challengeRequest struct {
	ChallengeID string `json:"challenge_id"`
}

type challengePasskeyRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Response    jsonRawResponse `json:"response"`
}

// jsonRawResponse defers parsing of the WebAuthn assertion to the engine.
type jsonRawResponse []byte

func (j *jsonRawResponse) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

func (rt *router) handleChallengeTOTP(w http.ResponseWriter, r *http.Request) {
	var req challengeCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	_, pair, err := rt.deps.Challenges.VerifyTOTP(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	rt.writeChallengeSuccess(w, pair)
}

func (rt *router) handleChallengeSMSSend(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	maskedPhone, err := rt.deps.Challenges.SendSMSOTP(r.Context(), req.ChallengeID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"masked_phone": maskedPhone})
}

func (rt *router) handleChallengeSMS(w http.ResponseWriter, r *http.Request) {
	var req challengeCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	_, pair, err := rt.deps.Challenges.VerifySMSOTP(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	rt.writeChallengeSuccess(w, pair)
}

func (rt *router) handleChallengePasskeyStart(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	opts, err := rt.deps.Challenges.StartPasskey(r.Context(), req.ChallengeID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, opts)
}

func (rt *router) handleChallengePasskey(w http.ResponseWriter, r *http.Request) {
	var req challengePasskeyRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	_, pair, err := rt.deps.Challenges.VerifyPasskey(r.Context(), req.ChallengeID, req.Response)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	rt.writeChallengeSuccess(w, pair)
}

func (rt *router) writeChallengeSuccess(w http.ResponseWriter, pair domain.TokenPair) {
	rt.setRefreshCookie(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, authResponse{Tokens: sanitizePair(pair)})
}
