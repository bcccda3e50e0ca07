package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ScopeTelemetryWrite allows submitting telemetry.
const ScopeTelemetryWrite = "telemetry:write"

type contextKey string

const claimsKey contextKey = "claims"

// Middleware guards handlers with bearer-token checks.
type Middleware struct {
	verifier *Verifier
	logger   *zap.Logger
}

// NewMiddleware returns middleware backed by verifier. A nil verifier lets
// every request through.
func NewMiddleware(verifier *Verifier, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{verifier: verifier, logger: logger.Named("auth")}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// RequireScope rejects requests without a valid token carrying scope.
func (m *Middleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.verifier == nil || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			claims, err := m.verifier.VerifyToken(token)
			if err != nil {
				m.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if !claims.HasScope(scope) {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ContextWithClaims returns a copy of ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by RequireScope.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
