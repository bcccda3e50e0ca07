package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the token claims fleetwatch reads.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier checks token signatures and standard claims.
type Verifier struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier builds a verifier from cfg. It returns nil and no error when
// cfg.Algorithm is empty, meaning authentication is disabled.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{algorithm: cfg.Algorithm}

	switch cfg.Algorithm {
	case "":
		return nil, nil
	case AlgorithmHS256:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		v.secret = []byte(cfg.SecretKey)
	case AlgorithmRS256:
		key, err := parsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithIssuedAt(),
	)
	return v, nil
}

// VerifyToken parses tokenString and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrInvalidToken)
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	return claims, nil
}

func (v *Verifier) key(*jwt.Token) (interface{}, error) {
	if v.publicKey != nil {
		return v.publicKey, nil
	}
	return v.secret, nil
}

func parsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}
