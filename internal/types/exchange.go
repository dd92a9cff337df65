package types

import "encoding/json"

// Channel identifies the wire-format family of an inbound request.
type Channel string

const (
	ChannelAnthropic Channel = "anthropic"
	ChannelOpenAI    Channel = "openai"
)

// ExchangeRequest is the canonical, channel-agnostic snapshot of an inbound
// call. It is built once by the channel parser and never mutated afterwards;
// everything downstream of the parser operates on this struct, not on the
// original wire payload.
type ExchangeRequest struct {
	Channel        Channel
	Model          string
	OriginalStream bool
	Tools          []json.RawMessage
	Metadata       map[string]any
	Extras         map[string]any
	Payload        map[string]any
}

// ExchangeResponse is the buffered result of a provider call. Payload is
// always a complete Anthropic-shaped message (id, model, content,
// stop_reason, stop_sequence, usage) — providers never hand the gateway a
// partial or streaming body. Streaming toward the client is emulated from
// this buffered form.
type ExchangeResponse struct {
	Payload map[string]any
}

// Content block type tags. Blocks are kept as open maps so unknown variants
// pass through with all their fields intact; these constants cover the
// variants the delta strategies know about.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolUse  = "tool_use"
)

// Content returns the ordered content blocks of the response payload.
// Blocks that are not JSON objects are skipped.
func (r *ExchangeResponse) Content() []map[string]any {
	raw, ok := r.Payload["content"].([]any)
	if !ok {
		return nil
	}
	blocks := make([]map[string]any, 0, len(raw))
	for _, b := range raw {
		if m, ok := b.(map[string]any); ok {
			blocks = append(blocks, m)
		}
	}
	return blocks
}

// Usage returns the usage object of the payload, or zeroed defaults when the
// provider omitted it.
func (r *ExchangeResponse) Usage() map[string]any {
	if u, ok := r.Payload["usage"].(map[string]any); ok {
		return u
	}
	return map[string]any{"input_tokens": 0, "output_tokens": 0}
}

// BlockType returns the type tag of a content block ("" when absent).
func BlockType(block map[string]any) string {
	t, _ := block["type"].(string)
	return t
}

// StringField returns a string-valued field of a block ("" when absent or
// not a string).
func StringField(block map[string]any, key string) string {
	s, _ := block[key].(string)
	return s
}
