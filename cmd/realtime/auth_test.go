package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthorizer(t *testing.T) {
	secret := []byte("s3cret")
	authorize := jwtAuthorizer(secret)
	now := time.Now()

	valid, err := signToken(secret, "alice", time.Hour, now)
	require.NoError(t, err)
	expired, err := signToken(secret, "alice", time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)
	foreign, err := signToken([]byte("other"), "alice", time.Hour, now)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	header := httptest.NewRequest("GET", "/ws", nil)
	header.Header.Set("Authorization", "Bearer "+valid)
	assert.NoError(t, authorize(header))

	assert.NoError(t, authorize(httptest.NewRequest("GET", "/ws?token="+valid, nil)))
	assert.ErrorIs(t, authorize(httptest.NewRequest("GET", "/ws", nil)), errNoToken)
	assert.ErrorIs(t, authorize(httptest.NewRequest("GET", "/ws?token="+expired, nil)), jwt.ErrTokenExpired)
	assert.ErrorIs(t, authorize(httptest.NewRequest("GET", "/ws?token="+foreign, nil)), jwt.ErrTokenSignatureInvalid)
	assert.Error(t, authorize(httptest.NewRequest("GET", "/ws?token="+unsigned, nil)))
}

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query", nil)
	assert.Equal(t, "query", requestToken(r))
	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", requestToken(r))
	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "query", requestToken(r))
}
