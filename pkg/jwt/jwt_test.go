package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken(42, "user@example.com", RoleUser)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestGenerateTokenDefaultsRole(t *testing.T) {
	token, err := GenerateToken(1, "user@example.com", "")
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	_, err := ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHasRole(t *testing.T) {
	user := &JWTClaims{Role: RoleUser}
	assert.True(t, user.HasRole(RoleUser))
	assert.False(t, user.HasRole(RoleAdmin))

	admin := &JWTClaims{Role: RoleAdmin}
	assert.True(t, admin.HasRole(RoleAdmin))
	assert.True(t, admin.HasRole(RoleUser), "admin implies every role")
}
