package reqctx

import (
	"context"

	"github.com/google/uuid"
	"github.com/relayworks/mirage-gateway/internal/types"
)

type contextKey string

const requestContextKey contextKey = "mirage_request_context"

// RequestContext carries per-request identity and routing metadata. A fresh
// instance is bound into the request's context.Context by middleware at the
// very start of handling; concurrent requests never share an instance and
// there is no process-wide default to fall back on.
type RequestContext struct {
	CorrelationID   string
	Channel         types.Channel
	ModelAlias      string
	ResolvedModelID string
	ProviderName    string
	Streaming       bool
}

// New creates a RequestContext with a freshly generated correlation id.
func New() *RequestContext {
	return &RequestContext{CorrelationID: NewCorrelationID()}
}

// NewCorrelationID returns a full-entropy request identifier.
func NewCorrelationID() string {
	return "req_" + uuid.NewString()
}

// WithRequestContext binds rc into ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// FromContext returns the RequestContext bound into ctx, or (nil, false)
// when none was set. Callers must treat the absent case explicitly rather
// than assuming a shared default.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok
}

// CorrelationID returns the correlation id bound into ctx, or "" when no
// request context is present. Convenience for logging and error paths.
func CorrelationID(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok {
		return rc.CorrelationID
	}
	return ""
}
