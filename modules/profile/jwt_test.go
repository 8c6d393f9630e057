package profile

import (
	"testing"
	"time"
)

func testJWTConfig() JWTConfig {
	return JWTConfig{
		SecretKey:       "test-secret-key",
		SessionDuration: time.Hour,
		Issuer:          "test-issuer",
	}
}

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := NewJWTManager(testJWTConfig())

	token, err := manager.GenerateSessionToken("user-123", "alice")
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateSessionToken() returned empty token")
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("claims.UserID = %v, want %v", claims.UserID, "user-123")
	}
	if claims.Username != "alice" {
		t.Errorf("claims.Username = %v, want %v", claims.Username, "alice")
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("claims.Issuer = %v, want %v", claims.Issuer, "test-issuer")
	}
	if got := manager.SessionDuration(); got != 3600 {
		t.Errorf("SessionDuration() = %v, want 3600", got)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	manager := NewJWTManager(testJWTConfig())
	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := manager.GenerateSessionToken("user-123", "alice")
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}

	manager.now = time.Now
	if _, err := manager.ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrExpiredToken)
	}
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := NewJWTManager(testJWTConfig())

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "not.a.valid.token"},
		{"malformed jwt", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.ValidateToken(tt.token); err != ErrInvalidToken {
				t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
			}
		})
	}
}

func TestJWTManager_WrongSecretOrIssuer(t *testing.T) {
	signer := NewJWTManager(testJWTConfig())
	token, err := signer.GenerateSessionToken("user-123", "alice")
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}

	otherSecret := testJWTConfig()
	otherSecret.SecretKey = "another-secret"
	otherIssuer := testJWTConfig()
	otherIssuer.Issuer = "someone-else"

	for name, cfg := range map[string]JWTConfig{"secret": otherSecret, "issuer": otherIssuer} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewJWTManager(cfg).ValidateToken(token); err != ErrInvalidToken {
				t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
			}
		})
	}
}
