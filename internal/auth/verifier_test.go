package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claimSet jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claimSet).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestVerifyRoundtrip(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	credential := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "investor-1",
		"role":     "investor",
		"entities": []string{"creator-1", "creator-2"},
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(credential)
	require.NoError(t, err)
	assert.Equal(t, "investor-1", id.UserID)
	assert.Equal(t, RoleInvestor, id.Role)
	assert.Equal(t, []string{"creator-1", "creator-2"}, id.Entities)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewJWTVerifier("other-secret")
	credential := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "creator-1", "role": "creator",
	})

	_, err := v.Verify(credential)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	credential := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "creator-1", "role": "creator",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	_, err := v.Verify(credential)
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	credential := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1", "role": "superuser",
	})

	_, err := v.Verify(credential)
	assert.ErrorContains(t, err, "unknown role")
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	credential := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "creator",
	})

	_, err := v.Verify(credential)
	assert.ErrorContains(t, err, "subject")
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	_, err := v.Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestStaticVerifier(t *testing.T) {
	v := &StaticVerifier{Identities: map[string]Identity{
		"tok": {UserID: "u1", Role: RoleAdmin},
	}}

	id, err := v.Verify("tok")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, id.Role)

	_, err = v.Verify("nope")
	assert.Error(t, err)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleCreator.Valid())
	assert.True(t, RoleInvestor.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("superuser").Valid())
	assert.False(t, Role("").Valid())
}
