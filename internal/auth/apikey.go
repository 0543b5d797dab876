// ABOUTME: API key generation and verification for sk_{env}_ keys
// ABOUTME: Keys are stored as sha256 hashes; passwords as bcrypt hashes

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// apiKeyPattern matches sk_{live|test|dev}_{random} keys.
var apiKeyPattern = regexp.MustCompile(`^sk_(live|test|dev)_[A-Za-z0-9_-]{20,}$`)

// APIKeyData describes a verified API key.
type APIKeyData struct {
	KeyID       string
	UserID      string
	Environment string // "live", "test", "dev"
	Scopes      []string
}

// GenerateAPIKey creates a new API key for the given environment.
// Returns the key and its sha256 hex hash for configuration storage.
func GenerateAPIKey(environment string) (key, hash string, err error) {
	switch environment {
	case "live", "test", "dev":
	default:
		return "", "", fmt.Errorf("invalid environment: %q", environment)
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating key material: %w", err)
	}

	key = "sk_" + environment + "_" + base64.RawURLEncoding.EncodeToString(raw)
	return key, HashAPIKey(key), nil
}

// HashAPIKey returns the sha256 hex digest of a key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey checks a key's format and looks its hash up in the configured
// hash-to-user map. Returns nil if the key is unknown or malformed.
func VerifyAPIKey(key string, hashedKeys map[string]string) *APIKeyData {
	if !apiKeyPattern.MatchString(key) {
		return nil
	}

	hash := HashAPIKey(key)
	userID, ok := hashedKeys[hash]
	if !ok {
		return nil
	}

	parts := strings.SplitN(key, "_", 3)

	return &APIKeyData{
		KeyID:       hash[:16],
		UserID:      userID,
		Environment: parts[1],
		Scopes:      DefaultScopes,
	}
}

// VerifyPassword checks a user's password against the configured bcrypt hash.
func VerifyPassword(userID, password string, users map[string]string) bool {
	hash, ok := users[userID]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for the auth.users config map.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
