package channel

import (
	"errors"
	"testing"

	"github.com/relayworks/mirage-gateway/internal/types"
)

func TestParseAnthropic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"messages": [{"role": "user", "content": "hi"}],
		"stream": true,
		"max_tokens": 1024,
		"tools": [{"name": "search", "input_schema": {"type": "object"}}],
		"metadata": {"user_id": "u1"}
	}`)

	req, err := Parse(body, types.ChannelAnthropic)
	if err != nil {
		t.Fatal(err)
	}

	if req.Channel != types.ChannelAnthropic {
		t.Errorf("expected anthropic channel, got %s", req.Channel)
	}
	if req.Model != "claude-sonnet" {
		t.Errorf("expected model claude-sonnet, got %s", req.Model)
	}
	if !req.OriginalStream {
		t.Error("expected original_stream true")
	}
	if len(req.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(req.Tools))
	}
	if req.Metadata["user_id"] != "u1" {
		t.Errorf("expected metadata passthrough, got %v", req.Metadata)
	}
	if req.Payload["max_tokens"] != float64(1024) {
		t.Error("expected original payload retained")
	}
}

func TestParseOpenAI(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.2,
		"max_tokens": 256,
		"seed": 7
	}`)

	req, err := Parse(body, types.ChannelOpenAI)
	if err != nil {
		t.Fatal(err)
	}

	if req.Channel != types.ChannelOpenAI {
		t.Errorf("expected openai channel, got %s", req.Channel)
	}
	if req.OriginalStream {
		t.Error("expected original_stream false when omitted")
	}
	if req.Extras["temperature"] != 0.2 {
		t.Errorf("expected temperature in extras, got %v", req.Extras)
	}
	if req.Extras["seed"] != float64(7) {
		t.Errorf("expected seed in extras, got %v", req.Extras)
	}
	if _, ok := req.Extras["model"]; ok {
		t.Error("canonical fields must not leak into extras")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"missing model", `{"messages":[{"role":"user","content":"x"}]}`, errModelRequired},
		{"empty model", `{"model":"","messages":[{"role":"user","content":"x"}]}`, errModelRequired},
		{"missing messages", `{"model":"m"}`, errMessagesRequired},
		{"empty messages", `{"model":"m","messages":[]}`, errMessagesRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, ch := range []types.Channel{types.ChannelAnthropic, types.ChannelOpenAI} {
				_, err := Parse([]byte(tt.body), ch)
				if !errors.Is(err, tt.want) {
					t.Errorf("channel %s: expected %v, got %v", ch, tt.want, err)
				}
			}
		})
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{not json`), types.ChannelAnthropic); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseUnknownChannel(t *testing.T) {
	if _, err := Parse([]byte(`{"model":"m","messages":[{"a":1}]}`), types.Channel("grpc")); err == nil {
		t.Error("expected error for unknown channel")
	}
}
