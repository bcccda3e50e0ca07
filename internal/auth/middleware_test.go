package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()

	verifier, err := NewVerifier(config.AuthConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return NewMiddleware(verifier, nil)
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "truck-gateway" {
			t.Errorf("Unexpected subject in context: %s", claims.Subject)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name          string
		authHeader    string
		expectError   bool
		expectedToken string
	}{
		{name: "valid bearer token", authHeader: "Bearer test-token", expectedToken: "test-token"},
		{name: "missing authorization header", expectError: true},
		{name: "invalid format - no bearer", authHeader: "Basic test-token", expectError: true},
		{name: "invalid format - no space", authHeader: "Bearertest-token", expectError: true},
		{name: "empty token", authHeader: "Bearer ", expectError: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/drivers/telemetry", nil)
			if test.authHeader != "" {
				req.Header.Set("Authorization", test.authHeader)
			}

			token, err := extractBearerToken(req)
			if test.expectError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if token != test.expectedToken {
				t.Errorf("Expected token '%s', got '%s'", test.expectedToken, token)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	m := newTestMiddleware(t)
	handler := m.RequireScope(ScopeTelemetryWrite)(okHandler(t))

	tests := []struct {
		name       string
		method     string
		authHeader string
		wantStatus int
	}{
		{"valid token", http.MethodPut, "Bearer " + signHS256(t, publisherClaims(ScopeTelemetryWrite)), http.StatusOK},
		{"missing token", http.MethodPut, "", http.StatusUnauthorized},
		{"invalid token", http.MethodPut, "Bearer invalid-token", http.StatusUnauthorized},
		{"missing scope", http.MethodPut, "Bearer " + signHS256(t, publisherClaims("telemetry:read")), http.StatusForbidden},
		{"preflight skips auth", http.MethodOptions, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/drivers/telemetry", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus != http.StatusOK && !strings.Contains(rr.Body.String(), `"error"`) {
				t.Errorf("Expected error body, got %s", rr.Body.String())
			}
		})
	}
}

func TestRequireScopeDisabled(t *testing.T) {
	m := NewMiddleware(nil, nil)
	if m.Enabled() {
		t.Fatal("Expected middleware without verifier to be disabled")
	}

	rr := httptest.NewRecorder()
	m.RequireScope(ScopeTelemetryWrite)(okHandler(t)).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}
