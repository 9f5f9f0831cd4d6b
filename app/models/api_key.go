package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const (
	apiKeyPrefix    = "plk_"
	giftTokenPrefix = "gift_"
)

// HasActiveAPIKey reports whether the user can authenticate against the API.
func (u *User) HasActiveAPIKey() bool {
	return u != nil && u.APIKeyHash != ""
}

// IssueAPIKey rotates the key and returns the raw value once; only the hash is kept.
func (u *User) IssueAPIKey() (string, error) {
	rawKey, err := generateSecret(apiKeyPrefix)
	if err != nil {
		return "", err
	}
	now := time.Now()
	u.APIKeyHash = HashAPIKey(rawKey)
	u.APIKeyPrefix = rawKey[:min(len(rawKey), 16)]
	u.APIKeyCreatedAt = &now
	u.APIKeyLastUsedAt = nil
	return rawKey, nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// NewGiftTokenValue returns a fresh capability string for a gift token.
func NewGiftTokenValue() (string, error) {
	return generateSecret(giftTokenPrefix)
}

// generateSecret encodes 32 random bytes as lowercase base32 behind prefix.
func generateSecret(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	raw := prefix + strings.ToLower(secretEncoding.EncodeToString(b))
	if len(raw) < len(prefix)+32 {
		return "", fmt.Errorf("secret generation failed: value too short")
	}
	return raw, nil
}
