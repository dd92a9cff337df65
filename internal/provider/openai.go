package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relayworks/mirage-gateway/internal/apierr"
	"github.com/relayworks/mirage-gateway/internal/config"
	"github.com/relayworks/mirage-gateway/internal/types"
)

// OpenAI calls an OpenAI-compatible chat completions backend and converts
// the answer into the gateway's canonical Anthropic-shaped response.
type OpenAI struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAI(name string, cfg config.ProviderConfig, client *http.Client) *OpenAI {
	return &OpenAI{name: name, cfg: cfg, client: client}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) SupportsOperation(op string) bool { return op == OperationMessages }

func (o *OpenAI) Execute(ctx context.Context, req *types.ExchangeRequest, model string) (*Result, error) {
	body, err := o.buildBody(req, model)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	for k, v := range o.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	raw := apierr.ReadUpstreamBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apierr.UpstreamHTTPError{StatusCode: resp.StatusCode, Body: raw}
	}

	var completion openAICompletion
	if err := json.Unmarshal([]byte(raw), &completion); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}

	return &Result{Response: &types.ExchangeResponse{Payload: completion.toAnthropic(model)}, Raw: []byte(raw)}, nil
}

func (o *OpenAI) buildBody(req *types.ExchangeRequest, model string) (map[string]any, error) {
	if req.Channel == types.ChannelOpenAI {
		body := make(map[string]any, len(req.Payload))
		for k, v := range req.Payload {
			body[k] = v
		}
		body["model"] = model
		delete(body, "stream")
		return body, nil
	}

	// Anthropic-shaped request: system prompt becomes a leading system
	// message, block content is flattened to text.
	rawMessages, ok := req.Payload["messages"].([]any)
	if !ok {
		return nil, fmt.Errorf("anthropic request has no messages array")
	}
	var messages []map[string]any
	if system := flattenAnthropicContent(req.Payload["system"]); system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		messages = append(messages, map[string]any{
			"role":    role,
			"content": flattenAnthropicContent(m["content"]),
		})
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	for _, key := range []string{"max_tokens", "temperature", "top_p"} {
		if v, ok := req.Payload[key]; ok {
			body[key] = v
		}
	}
	if v, ok := req.Payload["stop_sequences"]; ok {
		body["stop"] = v
	}
	if tools := openAITools(req.Tools); len(tools) > 0 {
		body["tools"] = tools
	}
	return body, nil
}

// openAITools converts Anthropic tool declarations to OpenAI function
// tools. Entries already carrying a function object pass through.
func openAITools(tools []json.RawMessage) []map[string]any {
	var out []map[string]any
	for _, raw := range tools {
		var tool map[string]any
		if err := json.Unmarshal(raw, &tool); err != nil {
			continue
		}
		if _, ok := tool["function"]; ok {
			out = append(out, tool)
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		fn := map[string]any{"name": name}
		if desc, ok := tool["description"]; ok {
			fn["description"] = desc
		}
		if schema, ok := tool["input_schema"]; ok {
			fn["parameters"] = schema
		}
		out = append(out, map[string]any{"type": "function", "function": fn})
	}
	return out
}

// flattenAnthropicContent reduces Anthropic content (string or block list)
// to plain text.
func flattenAnthropicContent(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var text string
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := p["text"].(string); ok {
				text += t
			}
		}
		return text
	default:
		return ""
	}
}

type openAICompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// toAnthropic rebuilds the completion as an Anthropic Messages response.
func (c openAICompletion) toAnthropic(model string) map[string]any {
	content := []any{}
	stopReason := "end_turn"
	if len(c.Choices) > 0 {
		choice := c.Choices[0]
		if choice.Message.Content != "" {
			content = append(content, map[string]any{"type": "text", "text": choice.Message.Content})
		}
		for _, call := range choice.Message.ToolCalls {
			input := map[string]any{}
			if call.Function.Arguments != "" {
				// Invalid argument JSON degrades to an empty input object.
				_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
			}
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    call.ID,
				"name":  call.Function.Name,
				"input": input,
			})
		}
		stopReason = mapFinishReason(choice.FinishReason)
	}

	id := c.ID
	if id == "" {
		id = "msg_" + model
	}
	respModel := c.Model
	if respModel == "" {
		respModel = model
	}
	return map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"model":         respModel,
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  c.Usage.PromptTokens,
			"output_tokens": c.Usage.CompletionTokens,
		},
	}
}

func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}
