package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/neurohost/internal/domain"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signedToken(t *testing.T, key *rsa.PrivateKey, claims *domain.CustomClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	token := signedToken(t, key, &domain.CustomClaims{
		OwnerID: "owner-1",
		Role:    "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.OwnerID)
	assert.Equal(t, "admin", claims.Role)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	token := signedToken(t, key, &domain.CustomClaims{
		OwnerID: "owner-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := v.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsForeignAlg(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	// Симметричная подпись не должна проходить валидатор RS256
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &domain.CustomClaims{OwnerID: "owner-1"}).
		SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.VerifyToken(s)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsForeignKey(t *testing.T) {
	signer := testKey(t)
	v := NewBaseValidator(&testKey(t).PublicKey)

	token := signedToken(t, signer, &domain.CustomClaims{
		OwnerID: "owner-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := v.VerifyToken(token)
	assert.Error(t, err)
}
