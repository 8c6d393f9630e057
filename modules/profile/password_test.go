package profile

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "password123"},
		{"complex password", "P@ssw0rd!#$%^&*()"},
		{"unicode password", "motdepasse-é-密码"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if hash == tt.password {
				t.Error("Hash() returned the password unchanged")
			}
			if !hasher.Verify(tt.password, hash) {
				t.Error("Verify() = false for the hashed password")
			}
			if hasher.Verify(tt.password+"x", hash) {
				t.Error("Verify() = true for a different password")
			}
		})
	}
}

func TestNewPasswordHasher_CostFallback(t *testing.T) {
	tests := []struct {
		cost int
		want int
	}{
		{0, DefaultBcryptCost},
		{bcrypt.MaxCost + 1, DefaultBcryptCost},
		{bcrypt.MinCost, bcrypt.MinCost},
		{10, 10},
	}
	for _, tt := range tests {
		if got := NewPasswordHasher(tt.cost).cost; got != tt.want {
			t.Errorf("NewPasswordHasher(%d).cost = %d, want %d", tt.cost, got, tt.want)
		}
	}
}
