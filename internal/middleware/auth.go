package middleware

import (
	"context"
	"net/http"

	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/httputil"
	"github.com/loopreach/social-sync/internal/util"
)

type contextKey string

const userIDKey contextKey = "userID"

// AuthMiddleware authenticates internal callers with a static service key
// and propagates the acting user from the gateway. When a bcrypt hash is
// configured it takes precedence over the plain key.
type AuthMiddleware struct {
	apiKey     string
	apiKeyHash string
}

func NewAuthMiddleware(apiKey, apiKeyHash string) *AuthMiddleware {
	return &AuthMiddleware{apiKey: apiKey, apiKeyHash: apiKeyHash}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || !m.validKey(key) {
			httputil.WriteError(w, apperrors.Unauthorized("Invalid or missing API key"))
			return
		}

		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			httputil.WriteError(w, apperrors.MissingParameter("X-User-ID header"))
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validKey(key string) bool {
	if m.apiKeyHash != "" {
		return util.CheckPasswordHash(key, m.apiKeyHash)
	}
	if m.apiKey == "" {
		return false
	}
	return util.ConstantTimeEqual(key, m.apiKey)
}

// UserID returns the acting user set by the auth middleware, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
