package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-jwt-secret-key-for-testing-purposes"
	testIssuer = "smarttransit-rideshare"
)

func TestNewService(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)

	assert.NotNil(t, service)
	assert.Equal(t, testSecret, service.secret)
	assert.Equal(t, time.Hour, service.tokenExpiry)
	assert.Equal(t, testIssuer, service.issuer)
}

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)
	userID := uuid.New()
	roles := []string{RoleDriver}

	token, err := service.GenerateToken(userID, roles)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, roles, claims.Roles)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.True(t, claims.HasRole(RoleDriver))
	assert.False(t, claims.HasRole(RoleScanner))
}

func TestValidateToken_WrongSecret(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)
	other := NewService("another-secret", time.Hour, testIssuer)

	token, err := other.GenerateToken(uuid.New(), []string{RoleDriver})
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
	assert.False(t, IsExpired(err))
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)
	other := NewService(testSecret, time.Hour, "someone-else")

	token, err := other.GenerateToken(uuid.New(), []string{RoleDriver})
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	service := NewService(testSecret, -time.Minute, testIssuer)

	token, err := service.GenerateToken(uuid.New(), []string{RoleScanner})
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
	assert.True(t, IsExpired(err))
	assert.True(t, service.IsTokenExpired(token))
}

func TestValidateToken_UnexpectedSigningMethod(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)

	claims := Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    testIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = service.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_MissingUserID(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)

	token, err := service.GenerateToken(uuid.Nil, []string{RoleDriver})
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
}

func TestIsTokenExpired_Garbage(t *testing.T) {
	service := NewService(testSecret, time.Hour, testIssuer)
	assert.False(t, service.IsTokenExpired("not-a-token"))
}
