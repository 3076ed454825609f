package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/robot-control/robotd/internal/config"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrInvalidToken = errors.New("invalid token")
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	Algorithm string

	// SecretKey signs HS256 tokens.
	SecretKey string

	// PublicKeyPEM verifies RS256 tokens.
	PublicKeyPEM string

	// Leeway tolerates clock skew between the issuer and the robot.
	Leeway time.Duration
}

// tokenClaims is the JWT payload accepted by the verifier.
type tokenClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Verifier checks token signatures and extracts claims.
type Verifier struct {
	alg    string
	key    any
	parser *jwt.Parser
}

// NewVerifier creates a verifier for a single algorithm.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{alg: cfg.Algorithm}

	switch cfg.Algorithm {
	case AlgHS256:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		v.key = []byte(cfg.SecretKey)
	case AlgRS256:
		key, err := parsePublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.key = key
	default:
		return nil, fmt.Errorf("unsupported algorithm: %q", cfg.Algorithm)
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	)
	return v, nil
}

// FromConfig builds a verifier from the API auth section. It returns nil
// when auth is disabled. A public key file takes precedence over a secret.
func FromConfig(cfg config.AuthConfig) (*Verifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		return NewVerifier(VerifierConfig{Algorithm: AlgRS256, PublicKeyPEM: string(data), Leeway: 5 * time.Second})
	}
	return NewVerifier(VerifierConfig{Algorithm: AlgHS256, SecretKey: cfg.Secret, Leeway: 5 * time.Second})
}

// Algorithm returns the accepted signing algorithm.
func (v *Verifier) Algorithm() string {
	return v.alg
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrEmptyToken
	}

	var tc tokenClaims
	token, err := v.parser.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	if len(tc.Scopes) == 0 {
		return nil, fmt.Errorf("%w: missing 'scopes' claim", ErrInvalidToken)
	}
	for _, scope := range tc.Scopes {
		if !slices.Contains(AllScopes, scope) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, scope)
		}
	}

	return &Claims{Subject: tc.Subject, Scopes: tc.Scopes}, nil
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(pemData) == "" {
		return nil, fmt.Errorf("RS256 requires a public key")
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
}
