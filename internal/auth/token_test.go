package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndSubjectRoundTrip(t *testing.T) {
	token, err := Sign("secret", "user-1", time.Hour)
	require.NoError(t, err)

	sub, err := Subject("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestSubjectRejectsWrongSecret(t *testing.T) {
	token, err := Sign("secret", "user-1", time.Hour)
	require.NoError(t, err)

	_, err = Subject("other-secret", token)
	assert.Error(t, err)
}

func TestSubjectRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = Subject("secret", token)
	assert.Error(t, err)
}

func TestSubjectRejectsMissingSubject(t *testing.T) {
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = Subject("secret", token)
	assert.Error(t, err)
}

func TestSubjectRejectsUnsignedAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Subject("secret", token)
	assert.Error(t, err)
}

func TestSubjectRejectsEmptyToken(t *testing.T) {
	_, err := Subject("secret", "")
	assert.Error(t, err)
}

func TestSignDefaultsTTL(t *testing.T) {
	token, err := Sign("secret", "user-1", 0)
	require.NoError(t, err)

	sub, err := Subject("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}
