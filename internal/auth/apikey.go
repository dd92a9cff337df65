// Package auth authenticates gateway clients by API key. Keys are stored
// hashed in PostgreSQL with a Redis metadata cache in front.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateKey creates a new API key: mirage-{env}-{32 random alphanumeric chars}.
func GenerateKey(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("mirage-%s-%s", env, random), nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// KeyPrefix extracts a display-safe prefix: mirage-{env}-{first 8 of random}.
func KeyPrefix(key string) string {
	if len(key) < 16 {
		return key
	}
	dashes := 0
	for i, c := range key {
		if c == '-' {
			dashes++
			if dashes == 2 {
				end := i + 9
				if end > len(key) {
					end = len(key)
				}
				return key[:end]
			}
		}
	}
	return key[:16]
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata is the cached record for one API key.
type KeyMetadata struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	AllowedModels    []string  `json:"allowed_models"`
	RPMLimit         *int      `json:"rpm_limit,omitempty"`
	DailyTokenBudget *int      `json:"daily_token_budget,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// AllowsModel reports whether the key may use the given model alias. An
// empty allowlist permits everything.
func (km *KeyMetadata) AllowsModel(alias string) bool {
	if len(km.AllowedModels) == 0 {
		return true
	}
	for _, m := range km.AllowedModels {
		if m == alias {
			return true
		}
	}
	return false
}

// ParseDuration parses durations like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	if s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
