// ABOUTME: Request authenticator resolving bearer tokens and API keys to identities
// ABOUTME: Exposes sentinel errors so HTTP and WebSocket layers can map failures to codes

package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNoCredentials indicates the request carried no recognizable credentials.
	ErrNoCredentials = errors.New("no credentials provided")
	// ErrUnknownAPIKey indicates the presented API key is malformed or not registered.
	ErrUnknownAPIKey = errors.New("unknown api key")
)

// Authenticator resolves HTTP request credentials to an AuthContext.
// Bearer tokens take priority over the X-API-Key header when both are present.
type Authenticator struct {
	tokens  *TokenService
	apiKeys map[string]string // sha256 hash -> user ID
}

// NewAuthenticator creates an Authenticator backed by the given token service
// and the configured API key hash table.
func NewAuthenticator(tokens *TokenService, apiKeys map[string]string) *Authenticator {
	return &Authenticator{tokens: tokens, apiKeys: apiKeys}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticate resolves the request's credentials. Returns ErrNoCredentials when
// nothing usable is present, ErrUnknownAPIKey for bad keys, and the token
// service's sentinel errors for bad bearer tokens.
func (a *Authenticator) Authenticate(r *http.Request) (*AuthContext, error) {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return a.AuthenticateToken(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return a.AuthenticateAPIKey(key)
	}
	return nil, ErrNoCredentials
}

// AuthenticateToken verifies a raw access token string.
func (a *Authenticator) AuthenticateToken(token string) (*AuthContext, error) {
	claims, err := a.tokens.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	return &AuthContext{
		UserID:     claims.Subject,
		SessionKey: claims.SessionKey,
		Scopes:     claims.Scopes,
		Method:     MethodJWT,
	}, nil
}

// AuthenticateAPIKey verifies a raw API key string against the hash table.
func (a *Authenticator) AuthenticateAPIKey(key string) (*AuthContext, error) {
	data := VerifyAPIKey(key, a.apiKeys)
	if data == nil {
		return nil, ErrUnknownAPIKey
	}
	return &AuthContext{
		UserID:     data.UserID,
		SessionKey: "default",
		Scopes:     data.Scopes,
		Method:     MethodAPIKey,
		KeyID:      data.KeyID,
	}, nil
}
