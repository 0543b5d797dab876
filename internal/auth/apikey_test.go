// ABOUTME: Tests for API key generation, verification, and password hashing
// ABOUTME: Also covers the request Authenticator's credential resolution

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey("live")
	require.NoError(t, err)
	assert.Regexp(t, `^sk_live_`, key)
	assert.Equal(t, HashAPIKey(key), hash)
}

func TestGenerateAPIKey_InvalidEnvironment(t *testing.T) {
	_, _, err := GenerateAPIKey("prod")
	assert.Error(t, err)
}

func TestVerifyAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey("test")
	require.NoError(t, err)

	hashedKeys := map[string]string{hash: "alice"}

	data := VerifyAPIKey(key, hashedKeys)
	require.NotNil(t, data)
	assert.Equal(t, "alice", data.UserID)
	assert.Equal(t, "test", data.Environment)
	assert.Equal(t, hash[:16], data.KeyID)
	assert.Equal(t, DefaultScopes, data.Scopes)
}

func TestVerifyAPIKey_Unknown(t *testing.T) {
	key, _, err := GenerateAPIKey("live")
	require.NoError(t, err)

	assert.Nil(t, VerifyAPIKey(key, map[string]string{}))
}

func TestVerifyAPIKey_Malformed(t *testing.T) {
	hashedKeys := map[string]string{HashAPIKey("sk_live_invalid"): "alice"}

	// Well-formed keys have at least 20 characters of key material.
	assert.Nil(t, VerifyAPIKey("sk_live_invalid", hashedKeys))
	assert.Nil(t, VerifyAPIKey("pk_live_aaaaaaaaaaaaaaaaaaaaaaaa", hashedKeys))
	assert.Nil(t, VerifyAPIKey("", hashedKeys))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	users := map[string]string{"alice": hash}
	assert.True(t, VerifyPassword("alice", "hunter2", users))
	assert.False(t, VerifyPassword("alice", "wrong", users))
	assert.False(t, VerifyPassword("bob", "hunter2", users))
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *TokenService, string) {
	t.Helper()
	svc, err := NewTokenService([]byte("test-secret"), newMemRevocations())
	require.NoError(t, err)

	key, hash, err := GenerateAPIKey("dev")
	require.NoError(t, err)

	return NewAuthenticator(svc, map[string]string{hash: "alice"}), svc, key
}

func TestAuthenticator_BearerToken(t *testing.T) {
	authn, svc, _ := newTestAuthenticator(t)

	access, _, err := svc.Issue("alice", "work", nil)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/v1/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+access)

	authCtx, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", authCtx.UserID)
	assert.Equal(t, "work", authCtx.SessionKey)
	assert.Equal(t, MethodJWT, authCtx.Method)
}

func TestAuthenticator_APIKey(t *testing.T) {
	authn, _, key := newTestAuthenticator(t)

	r := httptest.NewRequest("GET", "/v1/sessions", nil)
	r.Header.Set("X-API-Key", key)

	authCtx, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", authCtx.UserID)
	assert.Equal(t, "default", authCtx.SessionKey)
	assert.Equal(t, MethodAPIKey, authCtx.Method)
	assert.NotEmpty(t, authCtx.KeyID)
}

func TestAuthenticator_UnknownAPIKey(t *testing.T) {
	authn, _, _ := newTestAuthenticator(t)

	r := httptest.NewRequest("GET", "/v1/sessions", nil)
	r.Header.Set("X-API-Key", "sk_live_invalid")

	_, err := authn.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnknownAPIKey)
}

func TestAuthenticator_NoCredentials(t *testing.T) {
	authn, _, _ := newTestAuthenticator(t)

	r := httptest.NewRequest("GET", "/v1/sessions", nil)

	_, err := authn.Authenticate(r)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAuthenticator_ExpiredBearerToken(t *testing.T) {
	authn, svc, _ := newTestAuthenticator(t)

	issued := time.Now().Add(-AccessTokenTTL - time.Minute)
	svc.now = func() time.Time { return issued }
	access, _, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)
	svc.now = time.Now

	r := httptest.NewRequest("GET", "/v1/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+access)

	_, err = authn.Authenticate(r)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
