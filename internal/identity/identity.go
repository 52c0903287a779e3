// Package identity derives the caller's identity from bearer tokens.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
)

type contextKey int

const (
	userIDKey contextKey = iota
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._~+/=-]{8,512}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// BearerToken returns the token from an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// UserIDForToken maps a token to a stable, opaque user ID.
// The same token always yields the same ID, so sessions survive reconnects.
func UserIDForToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "usr_" + hex.EncodeToString(sum[:8])
}

func isValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// Middleware rejects requests without a well-formed bearer token and injects the user ID.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" || !isValidToken(token) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="advisor"`)
				http.Error(w, `{"error":"missing or invalid bearer token"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithUserID(r.Context(), UserIDForToken(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
