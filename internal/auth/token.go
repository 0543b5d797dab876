// ABOUTME: JWT token service for access and refresh token lifecycle
// ABOUTME: HS256 signing with typed claims and a persisted revocation set

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes. Access tokens are short-lived and verified statelessly;
// refresh tokens live longer and are individually revocable by jti.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Token errors
var (
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrRevokedToken   = errors.New("token revoked")
)

// DefaultScopes are granted to tokens issued without an explicit scope set.
var DefaultScopes = []string{"agent:read", "agent:write"}

// Claims is the decoded content of a verified token.
type Claims struct {
	Subject    string
	SessionKey string
	TokenType  string // "access" or "refresh"
	Scopes     []string
	JTI        string // set on refresh tokens only
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// HasScope reports whether the claims include the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RevocationStore persists revoked refresh token IDs.
type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenService issues, verifies, refreshes, and revokes gateway tokens.
type TokenService struct {
	secret      []byte
	revocations RevocationStore
	now         func() time.Time
}

// NewTokenService creates a token service with the given signing secret and
// revocation store.
func NewTokenService(secret []byte, revocations RevocationStore) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	return &TokenService{
		secret:      secret,
		revocations: revocations,
		now:         time.Now,
	}, nil
}

// Issue creates an access/refresh token pair for the given subject.
// The access token expires in exactly AccessTokenTTL, the refresh token in
// RefreshTokenTTL. Nil scopes are replaced with DefaultScopes.
func (s *TokenService) Issue(subject, sessionKey string, scopes []string) (access, refresh string, err error) {
	if scopes == nil {
		scopes = DefaultScopes
	}
	now := s.now()

	access, err = s.signAccess(subject, sessionKey, scopes, now)
	if err != nil {
		return "", "", fmt.Errorf("signing access token: %w", err)
	}

	refreshClaims := jwt.MapClaims{
		"sub":  subject,
		"type": "refresh",
		"jti":  uuid.New().String(),
		"iat":  now.Unix(),
		"exp":  now.Add(RefreshTokenTTL).Unix(),
	}
	refresh, err = jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("signing refresh token: %w", err)
	}

	return access, refresh, nil
}

func (s *TokenService) signAccess(subject, sessionKey string, scopes []string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":     subject,
		"session": sessionKey,
		"type":    "access",
		"scope":   scopes,
		"iat":     now.Unix(),
		"exp":     now.Add(AccessTokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyAccess validates an access token.
// Returns ErrExpiredToken, ErrMalformedToken, or ErrWrongTokenType on failure.
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := s.verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "access" {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new access token.
// The refresh token itself is reused until its own expiry; it is not rotated.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.verify(refreshToken)
	if err != nil {
		return "", err
	}
	if claims.TokenType != "refresh" {
		return "", ErrWrongTokenType
	}

	revoked, err := s.revocations.IsTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return "", fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return "", ErrRevokedToken
	}

	access, err := s.signAccess(claims.Subject, "default", DefaultScopes, s.now())
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return access, nil
}

// Revoke adds a refresh token's jti to the revocation set.
// Revoking an already revoked token is not an error.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.verify(refreshToken)
	if err != nil {
		return err
	}
	if claims.TokenType != "refresh" {
		return ErrWrongTokenType
	}
	return s.revocations.RevokeToken(ctx, claims.JTI, claims.ExpiresAt)
}

// verify parses and validates signature and expiry, returning decoded claims.
func (s *TokenService) verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}

	claims := &Claims{
		Subject:   sub,
		TokenType: "access",
	}
	if typ, ok := mapClaims["type"].(string); ok {
		claims.TokenType = typ
	}
	if session, ok := mapClaims["session"].(string); ok {
		claims.SessionKey = session
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.JTI = jti
	}
	if rawScopes, ok := mapClaims["scope"].([]interface{}); ok {
		for _, raw := range rawScopes {
			if scope, ok := raw.(string); ok {
				claims.Scopes = append(claims.Scopes, scope)
			}
		}
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return claims, nil
}
