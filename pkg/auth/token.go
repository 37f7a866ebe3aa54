package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	// APIKeyPrefix identifies tenant API keys
	APIKeyPrefix = "tg_"
	// APIKeyLength is the number of random bytes in a key (256 bits)
	APIKeyLength = 32
)

// GenerateAPIKey creates a new tenant API key.
// Format: tg_<base64url(32 random bytes)>
// Only the returned hash is persisted.
func GenerateAPIKey() (key string, keyHash string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return key, HashAPIKey(key), nil
}

// HashAPIKey returns the hex SHA-256 of key, the form stored and looked up
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateAPIKeyFormat checks the prefix and encoding of key
func ValidateAPIKeyFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return fmt.Errorf("api key must start with %q", APIKeyPrefix)
	}

	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("api key is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid api key encoding: %w", err)
	}
	return nil
}

// DisplayPrefix returns the first characters of key for logs and listings
func DisplayPrefix(key string) string {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return ""
	}
	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encoded) >= 8 {
		return APIKeyPrefix + encoded[:8]
	}
	return key
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
