package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
)

// ErrorResponse is the JSON body written for rejected requests.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatusFor maps an Engine error to an HTTP status and a client-safe
// detail message.
func StatusFor(err error) (int, string) {
	var (
		rl   *goGuard.RateLimitError
		lock *goGuard.LockoutError
	)

	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, fmt.Sprintf("Too many requests, try again in %d minutes", rl.RetryAfterMinutes())
	case errors.As(err, &lock):
		return http.StatusForbidden, fmt.Sprintf("Locked out. Try again in %d seconds", lock.RemainingSeconds())
	case errors.Is(err, goGuard.ErrAccountInactive):
		return http.StatusForbidden, "User is inactive"
	case errors.Is(err, goGuard.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Incorrect username or password"
	case errors.Is(err, goGuard.ErrRefreshTokenNotAllowed):
		return http.StatusUnauthorized, "Cannot use refresh token"
	case errors.Is(err, goGuard.ErrTokenInvalid),
		errors.Is(err, goGuard.ErrTokenRevoked),
		errors.Is(err, goGuard.ErrTokenBindingMismatch),
		errors.Is(err, goGuard.ErrTokenTypeInvalid):
		return http.StatusUnauthorized, "Invalid authentication credentials"
	case goGuard.IsTransient(err):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// WriteError writes err as a JSON error response. Rate limit rejections
// carry a Retry-After header in seconds.
func WriteError(w http.ResponseWriter, err error) {
	status, detail := StatusFor(err)

	var rl *goGuard.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}

	WriteJSON(w, status, ErrorResponse{Detail: detail})
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
