package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/loopreach/social-sync/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	if appErr.Code == apperrors.ErrCodeRateLimited {
		if d, ok := appErr.Details.(map[string]int); ok {
			if secs, ok := d["retryAfterSeconds"]; ok {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
	}

	status := statusFromCode(appErr.Code)
	response := ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}

	WriteJSON(w, status, response)
}

// statusFromCode maps ErrorCode to HTTP status code
func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	// Exchange failures only happen on the provider-initiated callback,
	// where the contract is a 4xx with a machine-readable reason
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeMissingParameter,
		apperrors.ErrCodeInvalidState,
		apperrors.ErrCodeNotConnected,
		apperrors.ErrCodeProviderExchangeFailed:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 422 Unprocessable Entity: the grant is valid but the account lacks a
	// required page; retrying without user action cannot succeed
	case apperrors.ErrCodeNoPageFound:
		return http.StatusUnprocessableEntity

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case apperrors.ErrCodeProviderRefreshFailed,
		apperrors.ErrCodeExternal:
		return http.StatusBadGateway

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal,
		apperrors.ErrCodeDatabase:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
