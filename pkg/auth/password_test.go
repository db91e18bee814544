package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		valid    bool
	}{
		{"strong", "SecureP@ss123", true},
		{"multiple symbols", "Secure#P@ssw0rd", true},
		{"too short", "Pass@1", false},
		{"missing uppercase", "securepass@123", false},
		{"missing lowercase", "SECUREPASS@123", false},
		{"missing digit", "SecurePass@xyz", false},
		{"missing symbol", "SecurePass123", false},
		{"common", "password123", false},
		{"longer than bcrypt input", "Aa1@" + strings.Repeat("x", MaxPasswordLen), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, "invalid password", err.Error(), "details must not leak to callers")
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPasswordWithCost("SecureP@ss123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "SecureP@ss123", hash)

	assert.NoError(t, ComparePassword(hash, "SecureP@ss123"))
	assert.Error(t, ComparePassword(hash, "WrongPassword123!"))
}

func TestHashPassword_RejectsEmpty(t *testing.T) {
	_, err := HashPasswordWithCost("", bcrypt.MinCost)
	assert.Error(t, err)
}
