package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userIDKey contextKey = "user_id"

const headerUserID = "X-User-ID"

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Auth validates the bearer service token against its bcrypt hash and
// resolves the acting user from the X-User-ID header set by the
// frontend. An empty tokenHash disables token checking (dev mode);
// requests without a user id are rejected either way.
func Auth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash != "" {
				token, ok := bearerToken(r)
				if !ok || bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
					slog.WarnContext(r.Context(), "rejected request with bad service token", "path", r.URL.Path)
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
			}

			userID := strings.TrimSpace(r.Header.Get(headerUserID))
			if userID == "" {
				http.Error(w, `{"error":"missing user"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
