// Package sse replays a buffered provider response as an Anthropic Messages
// SSE session: a fixed-order event state machine fed by per-block-type delta
// strategies, with every emitted byte mirrored into the request's dump
// artifact.
package sse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayworks/mirage-gateway/internal/types"
)

// Options holds the replay tuning knobs. Zero values fall back to the
// protocol defaults.
type Options struct {
	TextChunkSize int
	ToolChunkSize int
	BlockDelay    time.Duration
}

const (
	defaultTextChunkSize = 50
	defaultToolChunkSize = 100
	defaultBlockDelay    = 7 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.TextChunkSize <= 0 {
		o.TextChunkSize = defaultTextChunkSize
	}
	if o.ToolChunkSize <= 0 {
		o.ToolChunkSize = defaultToolChunkSize
	}
	if o.BlockDelay <= 0 {
		o.BlockDelay = defaultBlockDelay
	}
	return o
}

// blockDeltas decomposes one complete content block into its ordered
// content_block_delta payloads. Single forward pass; an empty result is
// valid (nothing to stream for the block).
func blockDeltas(block map[string]any, index int, opts Options) ([]map[string]any, error) {
	switch types.BlockType(block) {
	case types.BlockThinking:
		return thinkingDeltas(block, index, opts), nil
	case types.BlockToolUse:
		return toolUseDeltas(block, index, opts)
	default:
		// Text, and the fallback for unknown block types: chunk whatever
		// "text" field the block carries. Unknown variants usually have
		// none, so they stream no deltas.
		return textDeltas(block, index, opts), nil
	}
}

func textDeltas(block map[string]any, index int, opts Options) []map[string]any {
	text := types.StringField(block, "text")
	if text == "" {
		return nil
	}
	var out []map[string]any
	for _, chunk := range chunkRunes(text, opts.TextChunkSize) {
		out = append(out, deltaPayload(index, map[string]any{
			"type": "text_delta",
			"text": chunk,
		}))
	}
	return out
}

// thinkingDeltas chunks the thinking text, then appends exactly one
// signature_delta carrying the entire signature. The two are sequential,
// never interleaved.
func thinkingDeltas(block map[string]any, index int, opts Options) []map[string]any {
	var out []map[string]any
	for _, chunk := range chunkRunes(types.StringField(block, "thinking"), opts.TextChunkSize) {
		out = append(out, deltaPayload(index, map[string]any{
			"type":     "thinking_delta",
			"thinking": chunk,
		}))
	}
	if sig := types.StringField(block, "signature"); sig != "" {
		out = append(out, deltaPayload(index, map[string]any{
			"type":      "signature_delta",
			"signature": sig,
		}))
	}
	return out
}

func toolUseDeltas(block map[string]any, index int, opts Options) ([]map[string]any, error) {
	input := block["input"]
	if input == nil {
		return nil, nil
	}
	if m, ok := input.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("serialize tool input: %w", err)
	}

	var out []map[string]any
	for _, chunk := range chunkRunes(string(data), opts.ToolChunkSize) {
		out = append(out, deltaPayload(index, map[string]any{
			"type":         "input_json_delta",
			"partial_json": chunk,
		}))
	}
	return out, nil
}

func deltaPayload(index int, delta map[string]any) map[string]any {
	return map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	}
}

// chunkRunes splits s into fixed-size rune slices; the last slice may be
// shorter. Slicing on rune boundaries keeps every chunk valid UTF-8.
func chunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// emptySkeleton builds the type-appropriate empty content_block for a
// content_block_start event: string fields blanked, identity fields
// (tool id/name) and non-string fields preserved.
func emptySkeleton(block map[string]any) map[string]any {
	switch types.BlockType(block) {
	case types.BlockText:
		return map[string]any{"type": "text", "text": ""}
	case types.BlockThinking:
		return map[string]any{"type": "thinking", "thinking": "", "signature": ""}
	case types.BlockToolUse:
		return map[string]any{
			"type":  "tool_use",
			"id":    types.StringField(block, "id"),
			"name":  types.StringField(block, "name"),
			"input": map[string]any{},
		}
	default:
		skeleton := make(map[string]any, len(block))
		for k, v := range block {
			if k == "type" {
				skeleton[k] = v
				continue
			}
			if _, ok := v.(string); ok {
				skeleton[k] = ""
				continue
			}
			skeleton[k] = v
		}
		return skeleton
	}
}
