package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Connection not found")
		assert.Equal(t, "NOT_FOUND: Connection not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "provider", "reason": "unknown value"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	exchangeCause := errors.New("bad code")
	refreshCause := errors.New("token revoked")

	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"NotFound", func() *AppError { return NotFound("Connection") }, ErrCodeNotFound},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"MissingParameter", func() *AppError { return MissingParameter("code") }, ErrCodeMissingParameter},
		{"InvalidState", func() *AppError { return InvalidState() }, ErrCodeInvalidState},
		{"NoPageFound", func() *AppError { return NoPageFound("facebook") }, ErrCodeNoPageFound},
		{"NotConnected", func() *AppError { return NotConnected("youtube") }, ErrCodeNotConnected},
		{"ProviderExchangeFailed", func() *AppError { return ProviderExchangeFailed("twitter", exchangeCause) }, ErrCodeProviderExchangeFailed},
		{"ProviderRefreshFailed", func() *AppError { return ProviderRefreshFailed("twitter", refreshCause) }, ErrCodeProviderRefreshFailed},
		{"RateLimited", func() *AppError { return RateLimited(60) }, ErrCodeRateLimited},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestRateLimitedDetails(t *testing.T) {
	t.Run("carries retry-after hint", func(t *testing.T) {
		err := RateLimited(120)
		details, ok := err.Details.(map[string]int)
		assert.True(t, ok)
		assert.Equal(t, 120, details["retryAfterSeconds"])
	})
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestExternal(t *testing.T) {
	t.Run("wraps external service error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := External("youtube", cause)
		assert.Equal(t, ErrCodeExternal, err.Code)
		assert.Contains(t, err.Message, "youtube")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})

	t.Run("finds AppError through fmt wrapping", func(t *testing.T) {
		appErr := NotConnected("twitter")
		wrapped := fmt.Errorf("sync: %w", appErr)
		assert.True(t, IsAppError(wrapped))
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := NoPageFound("instagram")
		assert.Equal(t, ErrCodeNoPageFound, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestHasCode(t *testing.T) {
	err := ProviderRefreshFailed("youtube", errors.New("revoked"))
	assert.True(t, HasCode(err, ErrCodeProviderRefreshFailed))
	assert.False(t, HasCode(err, ErrCodeRateLimited))
}

func TestNotFoundMessage(t *testing.T) {
	t.Run("formats resource name correctly", func(t *testing.T) {
		err := NotFound("Connection")
		assert.Equal(t, "Connection not found", err.Message)

		err = NotFound("metrics snapshot")
		assert.Equal(t, "metrics snapshot not found", err.Message)
	})
}
