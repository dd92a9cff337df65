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

// Anthropic calls the Anthropic Messages API. Responses are already in the
// gateway's canonical shape, so the response side is a plain decode.
type Anthropic struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropic(name string, cfg config.ProviderConfig, client *http.Client) *Anthropic {
	return &Anthropic{name: name, cfg: cfg, client: client}
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) SupportsOperation(op string) bool { return op == OperationMessages }

func (a *Anthropic) Execute(ctx context.Context, req *types.ExchangeRequest, model string) (*Result, error) {
	body, err := a.buildBody(req, model)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	if a.cfg.APIVersion != "" {
		httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	}
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	raw := apierr.ReadUpstreamBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apierr.UpstreamHTTPError{StatusCode: resp.StatusCode, Body: raw}
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	return &Result{Response: &types.ExchangeResponse{Payload: payload}, Raw: []byte(raw)}, nil
}

// buildBody produces the wire body for the Messages endpoint. Streaming is
// always stripped: the upstream call is buffered regardless of what the
// client asked for.
func (a *Anthropic) buildBody(req *types.ExchangeRequest, model string) (map[string]any, error) {
	if req.Channel == types.ChannelAnthropic {
		body := make(map[string]any, len(req.Payload))
		for k, v := range req.Payload {
			body[k] = v
		}
		body["model"] = model
		delete(body, "stream")
		if _, ok := body["max_tokens"]; !ok {
			body["max_tokens"] = defaultMaxTokens
		}
		return body, nil
	}

	// OpenAI-shaped request: lift the system messages out, flatten the rest.
	rawMessages, ok := req.Payload["messages"].([]any)
	if !ok {
		return nil, fmt.Errorf("openai request has no messages array")
	}
	var system string
	messages := make([]map[string]any, 0, len(rawMessages))
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content := flattenOpenAIContent(m["content"])
		if role == "system" || role == "developer" {
			if system != "" {
				system += "\n"
			}
			system += content
			continue
		}
		messages = append(messages, map[string]any{"role": role, "content": content})
	}

	body := map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": defaultMaxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	if v, ok := req.Extras["max_tokens"]; ok {
		body["max_tokens"] = v
	}
	for _, key := range []string{"temperature", "top_p", "stop_sequences"} {
		if v, ok := req.Extras[key]; ok {
			body[key] = v
		}
	}
	if v, ok := req.Extras["stop"]; ok {
		body["stop_sequences"] = v
	}
	if tools := anthropicTools(req.Tools); len(tools) > 0 {
		body["tools"] = tools
	}
	return body, nil
}

const defaultMaxTokens = 4096

// anthropicTools converts OpenAI function tools to Anthropic tool
// declarations. Tools already in Anthropic shape pass through untouched;
// malformed entries are skipped.
func anthropicTools(tools []json.RawMessage) []map[string]any {
	var out []map[string]any
	for _, raw := range tools {
		var tool map[string]any
		if err := json.Unmarshal(raw, &tool); err != nil {
			continue
		}
		if fn, ok := tool["function"].(map[string]any); ok {
			converted := map[string]any{"name": fn["name"]}
			if desc, ok := fn["description"]; ok {
				converted["description"] = desc
			}
			if params, ok := fn["parameters"]; ok {
				converted["input_schema"] = params
			}
			out = append(out, converted)
			continue
		}
		out = append(out, tool)
	}
	return out
}

// flattenOpenAIContent reduces OpenAI message content (string or part list)
// to plain text.
func flattenOpenAIContent(content any) string {
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
