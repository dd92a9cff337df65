package config

import (
	"os"
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
dump:
  dump_responses: true
  dump_dir: "/tmp/mirage-dumps"
  redact_headers: ["x-api-key"]
stream:
  text_chunk_size: 50
  block_delay: 7ms
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if !cfg.Dump.DumpResponses {
		t.Error("expected dump_responses true")
	}
	if cfg.Dump.Dir != "/tmp/mirage-dumps" {
		t.Errorf("expected dump dir /tmp/mirage-dumps, got %s", cfg.Dump.Dir)
	}
	if len(cfg.Dump.RedactHeaders) != 1 || cfg.Dump.RedactHeaders[0] != "x-api-key" {
		t.Errorf("unexpected redact_headers: %v", cfg.Dump.RedactHeaders)
	}
	if cfg.Stream.BlockDelay != 7*time.Millisecond {
		t.Errorf("expected block_delay 7ms, got %s", cfg.Stream.BlockDelay)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Stream.TextChunkSize != 50 {
		t.Errorf("expected default text chunk size 50, got %d", cfg.Stream.TextChunkSize)
	}
	if cfg.Stream.ToolChunkSize != 100 {
		t.Errorf("expected default tool chunk size 100, got %d", cfg.Stream.ToolChunkSize)
	}
	if cfg.Stream.BlockDelay != 7*time.Millisecond {
		t.Errorf("expected default block delay 7ms, got %s", cfg.Stream.BlockDelay)
	}
}
