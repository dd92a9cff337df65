package channel

import (
	"github.com/relayworks/mirage-gateway/internal/types"
)

// openAIPassthrough lists request fields that have no canonical equivalent
// and ride along in Extras for the provider adapter to consult.
var openAIPassthrough = []string{
	"temperature", "top_p", "max_tokens", "max_completion_tokens",
	"frequency_penalty", "presence_penalty", "stop", "n", "user",
	"response_format", "tool_choice", "logprobs", "seed",
}

// FromOpenAI builds an ExchangeRequest from an OpenAI Chat Completions
// payload (POST /v1/chat/completions). The response will still be
// Anthropic-shaped — the channel only describes the inbound format.
func FromOpenAI(payload map[string]any) (*types.ExchangeRequest, error) {
	model, err := requireModelAndMessages(payload)
	if err != nil {
		return nil, err
	}

	stream, _ := payload["stream"].(bool)

	extras := make(map[string]any)
	for _, key := range openAIPassthrough {
		if v, ok := payload[key]; ok {
			extras[key] = v
		}
	}

	return &types.ExchangeRequest{
		Channel:        types.ChannelOpenAI,
		Model:          model,
		OriginalStream: stream,
		Tools:          rawTools(payload),
		Metadata:       metadataOf(payload),
		Extras:         extras,
		Payload:        payload,
	}, nil
}
