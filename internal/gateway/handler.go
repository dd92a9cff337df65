// Package gateway wires the request pipeline: channel parsing, policy,
// routing, the buffered provider call, and delivery — either a plain JSON
// response or a replayed SSE stream. Providers never stream to the gateway;
// streaming toward the client is always emulated from the buffered result.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relayworks/mirage-gateway/internal/apierr"
	"github.com/relayworks/mirage-gateway/internal/auth"
	"github.com/relayworks/mirage-gateway/internal/channel"
	"github.com/relayworks/mirage-gateway/internal/config"
	"github.com/relayworks/mirage-gateway/internal/dump"
	"github.com/relayworks/mirage-gateway/internal/policy"
	"github.com/relayworks/mirage-gateway/internal/provider"
	"github.com/relayworks/mirage-gateway/internal/ratelimit"
	"github.com/relayworks/mirage-gateway/internal/reqctx"
	"github.com/relayworks/mirage-gateway/internal/router"
	"github.com/relayworks/mirage-gateway/internal/sse"
	"github.com/relayworks/mirage-gateway/internal/telemetry"
	"github.com/relayworks/mirage-gateway/internal/types"
)

// Handler holds the dependencies of the gateway HTTP handlers.
type Handler struct {
	router  *router.Router
	cfg     func() *config.Config
	dumper  *dump.Dumper
	policy  *policy.Evaluator
	budget  *ratelimit.BudgetTracker
	metrics *telemetry.Metrics
}

func NewHandler(rt *router.Router, cfg func() *config.Config, dumper *dump.Dumper, evaluator *policy.Evaluator, budget *ratelimit.BudgetTracker, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		router:  rt,
		cfg:     cfg,
		dumper:  dumper,
		policy:  evaluator,
		budget:  budget,
		metrics: metrics,
	}
}

// Messages handles POST /v1/messages.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, types.ChannelAnthropic)
}

// ChatCompletions handles POST /v1/chat/completions. The response is always
// Anthropic-shaped regardless of the request channel.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, types.ChannelOpenAI)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, ch types.Channel) {
	receivedAt := time.Now()
	cfg := h.cfg()

	rc, ok := reqctx.FromContext(r.Context())
	if !ok {
		rc = reqctx.New()
	}
	cid := rc.CorrelationID

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.failPreStream(w, apierr.InvalidRequest("failed to read request body", cid))
		return
	}
	defer r.Body.Close()

	req, err := channel.Parse(body, ch)
	if err != nil {
		h.failPreStream(w, apierr.InvalidRequest(err.Error(), cid))
		return
	}

	rc.Channel = ch
	rc.ModelAlias = req.Model
	rc.Streaming = req.OriginalStream

	handles := h.dumper.Begin(cid, r.Header, req.Payload)
	defer handles.Close()

	identity, _ := auth.IdentityFromContext(r.Context())
	if identity != nil && !identity.AllowsModel(req.Model) {
		h.failPreStream(w, apierr.New(apierr.KindAuthorization, "API key is not allowed to use model: "+req.Model, cid))
		return
	}

	p, resolvedModel, err := h.router.Resolve(req.Model, provider.OperationMessages)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrUnknownModel):
			h.failPreStream(w, apierr.InvalidRequest("model not found: "+req.Model, cid))
		case errors.Is(err, router.ErrNoProvider):
			h.failPreStream(w, apierr.New(apierr.KindOverloaded, "no available provider for model: "+req.Model, cid))
		default:
			h.failPreStream(w, apierr.New(apierr.KindServerError, "routing failed", cid))
		}
		return
	}
	rc.ResolvedModelID = resolvedModel
	rc.ProviderName = p.Name()

	if h.policy != nil && h.policy.Enabled() {
		keyID, keyName := "", ""
		if identity != nil {
			keyID, keyName = identity.KeyID, identity.KeyName
		}
		decision := h.policy.Evaluate(r.Context(), policy.InputFor(
			keyID, keyName, string(ch), req.Model, p.Name(), req.OriginalStream))
		if !decision.Allowed {
			slog.Warn("request denied by policy",
				"request_id", cid,
				"model", req.Model,
				"reason", decision.Reason,
			)
			if h.metrics != nil {
				h.metrics.RecordPolicyDeny(req.Model)
			}
			h.failPreStream(w, apierr.New(apierr.KindAuthorization, "request denied by policy: "+decision.Reason, cid))
			return
		}
	}

	handles.WriteTransformedHeaders(r.Header)
	if transformed, err := json.Marshal(transformedPayload(req.Payload, resolvedModel)); err == nil {
		handles.WriteTransformedRequest(transformed)
	}

	callCtx := r.Context()
	if timeout := cfg.Routing.DefaultTimeout; timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	result, err := p.Execute(callCtx, req, resolvedModel)
	if err != nil {
		if h.router.Health() != nil {
			h.router.Health().RecordFailure(p.Name())
		}
		derr := apierr.MapTransportError(err, cid)
		slog.Error("provider call failed",
			"request_id", cid,
			"provider", p.Name(),
			"model", resolvedModel,
			"error", err,
		)
		h.failPreStream(w, derr)
		return
	}
	if h.router.Health() != nil {
		h.router.Health().RecordSuccess(p.Name())
	}

	handles.WritePreTransformChunk(result.Raw)

	status := http.StatusOK
	if req.OriginalStream {
		h.respondStream(w, r, handles, cid, result.Response)
	} else {
		h.respondJSON(w, handles, cid, result.Response)
	}

	usage := result.Response.Usage()
	inputTokens := usageTokens(usage, "input_tokens")
	outputTokens := usageTokens(usage, "output_tokens")

	if identity != nil && h.budget != nil && outputTokens > 0 {
		if err := h.budget.Record(r.Context(), identity.KeyID, int64(outputTokens)); err != nil {
			slog.Debug("budget record failed", "request_id", cid, "error", err)
		}
	}

	duration := time.Since(receivedAt)
	slog.Info("request completed",
		"request_id", cid,
		"channel", string(ch),
		"model_requested", req.Model,
		"model_served", resolvedModel,
		"provider", p.Name(),
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"duration_ms", duration.Milliseconds(),
		"status_code", status,
		"stream", req.OriginalStream,
	)
	if h.metrics != nil {
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Channel:      string(ch),
			Model:        req.Model,
			Provider:     p.Name(),
			Status:       strconv.Itoa(status),
			Stream:       req.OriginalStream,
			DurationMs:   float64(duration.Milliseconds()),
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		})
	}
}

// respondStream replays the buffered response as an SSE session. The replayer
// closes the dump handles and delivers post-commit failures in-band.
func (h *Handler) respondStream(w http.ResponseWriter, r *http.Request, handles *dump.Handles, cid string, resp *types.ExchangeResponse) {
	streamCfg := h.cfg().Stream

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", cid)
	w.WriteHeader(http.StatusOK)

	replayer := sse.NewReplayer(w, handles, sse.Options{
		TextChunkSize: streamCfg.TextChunkSize,
		ToolChunkSize: streamCfg.ToolChunkSize,
		BlockDelay:    streamCfg.BlockDelay,
	}, cid)

	if err := replayer.Replay(r.Context(), resp); err != nil {
		slog.Warn("stream replay ended early", "request_id", cid, "error", err)
	}
}

// respondJSON delivers the buffered response unstreamed. The final artifact
// mirrors the exact bytes sent.
func (h *Handler) respondJSON(w http.ResponseWriter, handles *dump.Handles, cid string, resp *types.ExchangeResponse) {
	data, err := json.Marshal(resp.Payload)
	if err != nil {
		h.failPreStream(w, apierr.Transformer("encode response", cid, err))
		return
	}

	handles.WriteResponseChunk(data)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", cid)
	w.Write(data)
}

// failPreStream renders a domain error as the JSON envelope. Only valid
// before any response bytes have been committed.
func (h *Handler) failPreStream(w http.ResponseWriter, derr *apierr.DomainError) {
	if h.metrics != nil {
		h.metrics.RecordError(derr.Kind.ClientType())
	}
	apierr.WriteJSON(w, derr, h.cfg().Server.VerboseErrors)
}

// transformedPayload is the canonical payload with the resolved model id, as
// handed to the provider adapter.
func transformedPayload(payload map[string]any, model string) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	out["model"] = model
	delete(out, "stream")
	return out
}

func usageTokens(usage map[string]any, key string) int {
	switch v := usage[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// ListModels handles GET /v1/models with an Anthropic-style listing, scoped
// to the key's allowlist.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	cid := reqctx.CorrelationID(r.Context())
	identity, _ := auth.IdentityFromContext(r.Context())

	models := []modelObject{}
	for _, alias := range h.router.Aliases() {
		if identity != nil && !identity.AllowsModel(alias) {
			continue
		}
		models = append(models, modelObject{
			Type:        "model",
			ID:          alias,
			DisplayName: alias,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", cid)
	json.NewEncoder(w).Encode(modelListResponse{
		Data:    models,
		HasMore: false,
	})
}

type modelObject struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type modelListResponse struct {
	Data    []modelObject `json:"data"`
	HasMore bool          `json:"has_more"`
}
