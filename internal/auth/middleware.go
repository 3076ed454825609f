package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/robot-control/robotd/internal/audit"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

type claimsKey struct{}

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// AllScopes lists every scope a token may carry.
var AllScopes = []string{ScopeRead, ScopeControl, ScopeTelemetry}

// AnonymousSubject is the subject attached to requests when auth is disabled.
const AnonymousSubject = "anonymous"

// HealthPath is served without a token.
const HealthPath = "/api/v1/health"

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier *Verifier
	logger   *slog.Logger
}

// NewMiddleware creates the auth middleware. A nil verifier disables
// authentication: every request is treated as an anonymous operator holding
// all scopes.
func NewMiddleware(verifier *Verifier, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{verifier: verifier, logger: logger}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// RequireAuth creates middleware that requires authentication. The verified
// subject is attached to the context for the audit log.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == HealthPath {
			next.ServeHTTP(w, r)
			return
		}

		claims := &Claims{Subject: AnonymousSubject, Scopes: AllScopes}
		if m.verifier != nil {
			token, err := extractBearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			claims, err = m.verifier.VerifyToken(token)
			if err != nil {
				m.logger.Debug("Token rejected", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = audit.WithUser(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope creates middleware that requires all of the given scopes.
func (m *Middleware) RequireScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			for _, scope := range scopes {
				if !claims.HasScope(scope) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
					return
				}
			}
			next(w, r)
		}
	}
}

// ClaimsFromContext returns the claims stored by RequireAuth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// extractBearerToken extracts the bearer token from the Authorization header.
// Browsers cannot set headers on EventSource and WebSocket requests, so an
// access_token query parameter is accepted as well.
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("missing Authorization header")
	}

	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// writeError writes an error response in the API envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
