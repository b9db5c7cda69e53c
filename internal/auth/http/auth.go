package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/service"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/httpx"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/slogx"
)

// AuthHandler handles the authentication endpoints.
type AuthHandler struct {
	AuthService *service.AuthService
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code"`
}

// HandleRegister handles POST /v1/auth/register. A new account is signed in
// immediately; two-factor is a separate opt-in.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	session, err := h.AuthService.Register(ctx, req.Email, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, session)
}

// HandleLogin handles POST /v1/auth/login. Accounts with two-factor enabled
// get a 409 carrying the pending token instead of a session.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	result, err := h.AuthService.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	if result.Challenge != nil {
		httpx.WriteJSON(w, http.StatusConflict, result.Challenge)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result.Session)
}

// HandleSetup2FA handles POST /v1/auth/2fa/setup. The bearer token may be a
// session or a pending token; the response carries the plaintext secret and
// provisioning URI exactly once.
func (h *AuthHandler) HandleSetup2FA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	token, ok := bearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_token", "Missing bearer token.")
		return
	}

	setup, err := h.AuthService.Setup2FA(ctx, token)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, setup)
}

// HandleVerify2FA handles POST /v1/auth/2fa/verify. A successful code turns
// the pending token into a full session; this is the only way past a
// two-factor challenge.
func (h *AuthHandler) HandleVerify2FA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.PendingToken == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "pending_token and code are required")
		return
	}

	session, err := h.AuthService.Verify2FA(ctx, req.PendingToken, req.Code)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, session)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, found && token != ""
}
