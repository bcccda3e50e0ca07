package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

const testSecret = "test-secret-key"

func generateTestRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}

	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signHS256(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func publisherClaims(scopes ...string) *Claims {
	now := time.Now()
	return &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "truck-gateway",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestNewVerifier(t *testing.T) {
	_, publicPEM := generateTestRSAKey(t)

	tests := []struct {
		name    string
		config  config.AuthConfig
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", config: config.AuthConfig{}, wantNil: true},
		{name: "valid HS256", config: config.AuthConfig{Algorithm: "HS256", SecretKey: testSecret}},
		{name: "valid RS256", config: config.AuthConfig{Algorithm: "RS256", PublicKeyPEM: publicPEM}},
		{name: "HS256 without secret", config: config.AuthConfig{Algorithm: "HS256"}, wantErr: true},
		{name: "RS256 with garbage PEM", config: config.AuthConfig{Algorithm: "RS256", PublicKeyPEM: "not a key"}, wantErr: true},
		{name: "unsupported algorithm", config: config.AuthConfig{Algorithm: "ES256"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, err := NewVerifier(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (verifier == nil) != tt.wantNil {
				t.Errorf("NewVerifier() nil = %v, want %v", verifier == nil, tt.wantNil)
			}
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	verifier, err := NewVerifier(config.AuthConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	claims, err := verifier.VerifyToken(signHS256(t, publisherClaims(ScopeTelemetryWrite)))
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "truck-gateway" {
		t.Errorf("Expected subject 'truck-gateway', got '%s'", claims.Subject)
	}
	if !claims.HasScope(ScopeTelemetryWrite) {
		t.Errorf("Expected scope %s, got %v", ScopeTelemetryWrite, claims.Scopes)
	}
}

func TestVerifyRS256Token(t *testing.T) {
	key, publicPEM := generateTestRSAKey(t)
	verifier, err := NewVerifier(config.AuthConfig{Algorithm: "RS256", PublicKeyPEM: publicPEM})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, publisherClaims(ScopeTelemetryWrite)).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	claims, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "truck-gateway" {
		t.Errorf("Expected subject 'truck-gateway', got '%s'", claims.Subject)
	}

	// An HS256 token must not verify against an RS256 verifier.
	if _, err := verifier.VerifyToken(signHS256(t, publisherClaims())); err == nil {
		t.Error("Expected algorithm mismatch to fail")
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	verifier, err := NewVerifier(config.AuthConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	expired := publisherClaims(ScopeTelemetryWrite)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noSubject := publisherClaims(ScopeTelemetryWrite)
	noSubject.Subject = ""

	wrongSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, publisherClaims()).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", "  "},
		{"garbage", "not.a.jwt"},
		{"expired", signHS256(t, expired)},
		{"missing subject", signHS256(t, noSubject)},
		{"wrong secret", wrongSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.VerifyToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("VerifyToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
