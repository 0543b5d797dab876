// ABOUTME: Tests for the JWT token service lifecycle
// ABOUTME: Covers issue/verify round-trips, expiry, type confusion, and revocation

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRevocations is an in-memory RevocationStore for tests.
type memRevocations struct {
	revoked map[string]time.Time
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: make(map[string]time.Time)}
}

func (m *memRevocations) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	if _, ok := m.revoked[jti]; !ok {
		m.revoked[jti] = expiresAt
	}
	return nil
}

func (m *memRevocations) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := m.revoked[jti]
	return ok, nil
}

func newTestService(t *testing.T) (*TokenService, *memRevocations) {
	t.Helper()
	revocations := newMemRevocations()
	svc, err := NewTokenService([]byte("test-secret"), revocations)
	require.NoError(t, err)
	return svc, revocations
}

func TestNewTokenService_EmptySecret(t *testing.T) {
	_, err := NewTokenService(nil, newMemRevocations())
	assert.Error(t, err)
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t)

	access, refresh, err := svc.Issue("alice", "work", []string{"agent:read"})
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := svc.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "work", claims.SessionKey)
	assert.Equal(t, "access", claims.TokenType)
	assert.Equal(t, []string{"agent:read"}, claims.Scopes)
	assert.True(t, claims.HasScope("agent:read"))
	assert.False(t, claims.HasScope("agent:write"))
}

func TestTokenService_Issue_DefaultScopes(t *testing.T) {
	svc, _ := newTestService(t)

	access, _, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, DefaultScopes, claims.Scopes)
}

func TestTokenService_VerifyAccess_Expired(t *testing.T) {
	svc, _ := newTestService(t)

	issued := time.Now()
	svc.now = func() time.Time { return issued }
	access, _, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	// Just before expiry the token is still valid.
	svc.now = func() time.Time { return issued.Add(AccessTokenTTL - time.Second) }
	_, err = svc.VerifyAccess(access)
	require.NoError(t, err)

	// Past expiry it is rejected.
	svc.now = func() time.Time { return issued.Add(AccessTokenTTL + time.Second) }
	_, err = svc.VerifyAccess(access)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_VerifyAccess_Malformed(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestTokenService_VerifyAccess_WrongSecret(t *testing.T) {
	svc, _ := newTestService(t)
	other, err := NewTokenService([]byte("other-secret"), newMemRevocations())
	require.NoError(t, err)

	access, _, err := other.Issue("alice", "default", nil)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(access)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestTokenService_VerifyAccess_RefreshTokenRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, refresh, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestTokenService_Refresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, refresh, err := svc.Issue("alice", "work", nil)
	require.NoError(t, err)

	access, err := svc.Refresh(ctx, refresh)
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "default", claims.SessionKey)
}

func TestTokenService_Refresh_AccessTokenRejected(t *testing.T) {
	svc, _ := newTestService(t)

	access, _, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), access)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestTokenService_Refresh_AfterRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, refresh, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, refresh))

	_, err = svc.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, ErrRevokedToken)
}

func TestTokenService_Revoke_Idempotent(t *testing.T) {
	svc, revocations := newTestService(t)
	ctx := context.Background()

	_, refresh, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, refresh))
	require.NoError(t, svc.Revoke(ctx, refresh))
	assert.Len(t, revocations.revoked, 1)
}

func TestTokenService_Revoke_OnlyAffectsOneToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, refreshA, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)
	_, refreshB, err := svc.Issue("alice", "default", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, refreshA))

	_, err = svc.Refresh(ctx, refreshA)
	assert.ErrorIs(t, err, ErrRevokedToken)

	_, err = svc.Refresh(ctx, refreshB)
	assert.NoError(t, err)
}
