// Package channel builds the canonical ExchangeRequest from decoded wire
// payloads. Parsers are pure: no I/O, and only the validation the gateway
// core depends on (a model and at least one message). Everything downstream
// of this package is channel-agnostic.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relayworks/mirage-gateway/internal/types"
)

var (
	errModelRequired    = errors.New("model is required")
	errMessagesRequired = errors.New("messages is required")
)

// Parse decodes body and dispatches to the parser for the given channel.
func Parse(body []byte, ch types.Channel) (*types.ExchangeRequest, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch ch {
	case types.ChannelAnthropic:
		return FromAnthropic(payload)
	case types.ChannelOpenAI:
		return FromOpenAI(payload)
	default:
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
}

func requireModelAndMessages(payload map[string]any) (string, error) {
	model, _ := payload["model"].(string)
	if model == "" {
		return "", errModelRequired
	}
	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) == 0 {
		return "", errMessagesRequired
	}
	return model, nil
}

func rawTools(payload map[string]any) []json.RawMessage {
	raw, ok := payload["tools"].([]any)
	if !ok {
		return nil
	}
	tools := make([]json.RawMessage, 0, len(raw))
	for _, t := range raw {
		data, err := json.Marshal(t)
		if err != nil {
			continue
		}
		tools = append(tools, json.RawMessage(data))
	}
	return tools
}

func metadataOf(payload map[string]any) map[string]any {
	m, _ := payload["metadata"].(map[string]any)
	return m
}
