package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/robot-control/robotd/internal/config"
)

const testSecret = "test-secret-key"

func TestNewVerifier(t *testing.T) {
	_, publicPEM := generateTestRSAKey(t)

	tests := []struct {
		name    string
		config  VerifierConfig
		wantErr bool
	}{
		{"valid RS256 config with PEM", VerifierConfig{Algorithm: AlgRS256, PublicKeyPEM: publicPEM}, false},
		{"RS256 without key", VerifierConfig{Algorithm: AlgRS256}, true},
		{"RS256 with garbage key", VerifierConfig{Algorithm: AlgRS256, PublicKeyPEM: "not a key"}, true},
		{"valid HS256 config", VerifierConfig{Algorithm: AlgHS256, SecretKey: testSecret}, false},
		{"HS256 without secret", VerifierConfig{Algorithm: AlgHS256}, true},
		{"invalid algorithm", VerifierConfig{Algorithm: "ES256"}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			verifier, err := NewVerifier(test.config)
			if test.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if verifier.Algorithm() != test.config.Algorithm {
				t.Errorf("Algorithm() = %s, want %s", verifier.Algorithm(), test.config.Algorithm)
			}
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: AlgHS256, SecretKey: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	token := signHS256(t, testSecret, jwt.MapClaims{
		"sub":    "drive-coach",
		"scopes": []string{ScopeRead, ScopeControl},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.Subject != "drive-coach" {
		t.Errorf("Subject = %s, want drive-coach", claims.Subject)
	}
	if !claims.HasScope(ScopeControl) || claims.HasScope(ScopeTelemetry) {
		t.Errorf("Scopes = %v", claims.Scopes)
	}
}

func TestVerifyRS256Token(t *testing.T) {
	privateKey, publicPEM := generateTestRSAKey(t)
	verifier, err := NewVerifier(VerifierConfig{Algorithm: AlgRS256, PublicKeyPEM: publicPEM})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":    "field-laptop",
		"scopes": []string{ScopeTelemetry},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	claims, err := verifier.VerifyToken(signed)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.Subject != "field-laptop" || !claims.HasScope(ScopeTelemetry) {
		t.Errorf("claims = %+v", claims)
	}

	// An HS256 token must not pass an RS256 verifier.
	hs := signHS256(t, publicPEM, jwt.MapClaims{
		"sub":    "field-laptop",
		"scopes": []string{ScopeTelemetry},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	if _, err := verifier.VerifyToken(hs); err == nil {
		t.Error("Expected algorithm confusion to be rejected")
	}
}

func TestVerifyTokenErrors(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: AlgHS256, SecretKey: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", "  "},
		{"malformed token", "not.a.jwt"},
		{"wrong secret", signHS256(t, "wrong-secret", jwt.MapClaims{"sub": "a", "scopes": []string{ScopeRead}, "exp": exp})},
		{"expired", signHS256(t, testSecret, jwt.MapClaims{"sub": "a", "scopes": []string{ScopeRead}, "exp": time.Now().Add(-time.Hour).Unix()})},
		{"no expiry", signHS256(t, testSecret, jwt.MapClaims{"sub": "a", "scopes": []string{ScopeRead}})},
		{"missing subject", signHS256(t, testSecret, jwt.MapClaims{"scopes": []string{ScopeRead}, "exp": exp})},
		{"missing scopes", signHS256(t, testSecret, jwt.MapClaims{"sub": "a", "exp": exp})},
		{"unknown scope", signHS256(t, testSecret, jwt.MapClaims{"sub": "a", "scopes": []string{"admin"}, "exp": exp})},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := verifier.VerifyToken(test.token)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrEmptyToken) {
				t.Errorf("error %v is neither ErrInvalidToken nor ErrEmptyToken", err)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	verifier, err := FromConfig(config.AuthConfig{})
	if err != nil || verifier != nil {
		t.Fatalf("disabled auth: verifier=%v err=%v", verifier, err)
	}

	verifier, err = FromConfig(config.AuthConfig{Enabled: true, Secret: testSecret})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if verifier.Algorithm() != AlgHS256 {
		t.Errorf("Algorithm() = %s, want HS256", verifier.Algorithm())
	}

	_, publicPEM := generateTestRSAKey(t)
	path := filepath.Join(t.TempDir(), "robot.pub")
	if err := os.WriteFile(path, []byte(publicPEM), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	verifier, err = FromConfig(config.AuthConfig{Enabled: true, Secret: testSecret, PublicKeyFile: path})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if verifier.Algorithm() != AlgRS256 {
		t.Errorf("Algorithm() = %s, want RS256", verifier.Algorithm())
	}

	if _, err := FromConfig(config.AuthConfig{Enabled: true, PublicKeyFile: filepath.Join(t.TempDir(), "missing.pub")}); err == nil {
		t.Error("Expected error for missing key file")
	}
}

func generateTestRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}

	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyDER,
	})
	return privateKey, string(publicKeyPEM)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}
