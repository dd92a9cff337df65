package channel

import (
	"github.com/relayworks/mirage-gateway/internal/types"
)

// FromAnthropic builds an ExchangeRequest from an Anthropic Messages API
// payload (POST /v1/messages).
func FromAnthropic(payload map[string]any) (*types.ExchangeRequest, error) {
	model, err := requireModelAndMessages(payload)
	if err != nil {
		return nil, err
	}

	stream, _ := payload["stream"].(bool)

	return &types.ExchangeRequest{
		Channel:        types.ChannelAnthropic,
		Model:          model,
		OriginalStream: stream,
		Tools:          rawTools(payload),
		Metadata:       metadataOf(payload),
		Payload:        payload,
	}, nil
}
