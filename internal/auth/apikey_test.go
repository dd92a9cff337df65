package auth

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey("prod")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(key, "mirage-prod-") {
		t.Errorf("key should start with 'mirage-prod-', got: %s", key)
	}

	// mirage-prod- is 12 chars, plus 32 random = 44 total
	if len(key) != 44 {
		t.Errorf("expected key length 44, got %d: %s", len(key), key)
	}

	key2, _ := GenerateKey("prod")
	if key == key2 {
		t.Error("two generated keys should not be identical")
	}
}

func TestHashKey(t *testing.T) {
	key := "mirage-prod-abcdefghijklmnopqrstuvwxyz012345"
	hash := HashKey(key)

	if len(hash) != 64 {
		t.Errorf("expected hash length 64, got %d", len(hash))
	}
	if hash != HashKey(key) {
		t.Error("same key should produce same hash")
	}
	if hash == HashKey("mirage-prod-different") {
		t.Error("different keys should produce different hashes")
	}
}

func TestKeyPrefix(t *testing.T) {
	key := "mirage-prod-abcdefghijklmnopqrstuvwxyz012345"
	prefix := KeyPrefix(key)
	if prefix != "mirage-prod-abcdefgh" {
		t.Errorf("prefix = %q", prefix)
	}
	if strings.Contains(prefix, "ijkl") {
		t.Error("prefix leaks too much of the key")
	}

	if KeyPrefix("short") != "short" {
		t.Errorf("short keys pass through unchanged")
	}
}

func TestAllowsModel(t *testing.T) {
	unrestricted := &KeyMetadata{}
	if !unrestricted.AllowsModel("anything") {
		t.Error("empty allowlist must permit all models")
	}

	restricted := &KeyMetadata{AllowedModels: []string{"sonnet", "haiku"}}
	if !restricted.AllowsModel("haiku") {
		t.Error("listed model should be allowed")
	}
	if restricted.AllowsModel("opus") {
		t.Error("unlisted model should be denied")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"365d": 365 * 24 * time.Hour,
		"30d":  30 * 24 * time.Hour,
		"24h":  24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Errorf("ParseDuration(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseDuration(""); err == nil {
		t.Error("empty duration should fail")
	}
}
