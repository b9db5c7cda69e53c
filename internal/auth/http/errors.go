package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rs-cuongph/my-password-management-sub002/internal/auth/service"
	"github.com/rs-cuongph/my-password-management-sub002/pkg/httpx"
)

// writeServiceError maps the service error taxonomy onto HTTP. Credential
// and code failures keep their generic wording; anything unrecognised is a
// 500 with no detail leaked.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var validation *service.ValidationError
	if errors.As(err, &validation) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", validation.Error())
		return
	}

	var limited *service.RateLimitedError
	if errors.As(err, &limited) {
		retryAfter := max(int(limited.RetryAfter.Seconds()), 1)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		httpx.WriteError(w, http.StatusTooManyRequests,
			"rate_limit_exceeded", "Too many attempts. Please try again later.")
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidTOTPCode):
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_code", "The verification code is not valid.")
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_credentials", "Incorrect email or password.")
	case errors.Is(err, service.ErrTokenExpired):
		httpx.WriteError(w, http.StatusUnauthorized,
			"token_expired", "The token has expired.")
	case errors.Is(err, service.ErrTokenKindMismatch):
		httpx.WriteError(w, http.StatusUnauthorized,
			"wrong_token_kind", "The token cannot be used for this operation.")
	case errors.Is(err, service.ErrTokenInvalid):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_token", "The token is not valid.")
	case errors.Is(err, service.ErrDuplicateAccount):
		httpx.WriteError(w, http.StatusConflict,
			"account_exists", "An account with this email or username already exists.")
	case errors.Is(err, service.ErrTwoFactorEnabled):
		httpx.WriteError(w, http.StatusConflict,
			"two_factor_already_enabled", "Two-factor authentication is already enabled.")
	default:
		log.Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError,
			"server_error", "An internal error occurred.")
	}
}

func writeBadJSON(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
}
