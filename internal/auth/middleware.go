package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"ms-coupons/internal/logger"
	"ms-coupons/internal/utils"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AdminKeyHeader carries the shared secret for admin routes.
const AdminKeyHeader = "X-Admin-Key"

// Middleware authenticates the bearer token once per request and stores the
// caller's user id in the request context. Failures never reach the handler.
func Middleware(verifier Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}

			userID, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// AdminMiddleware guards admin routes with a static key. An empty key disables them.
func AdminMiddleware(apiKey string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(AdminKeyHeader)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				log.LogSecurity("ADMIN_DENIED", fmt.Sprintf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr))
				utils.WriteError(w, http.StatusUnauthorized, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}
