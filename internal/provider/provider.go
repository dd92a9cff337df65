// Package provider contains the upstream adapters. Every adapter calls its
// backend non-streaming and hands the gateway a fully-buffered,
// Anthropic-shaped response; streaming toward the client is emulated
// elsewhere and is never the provider's concern.
package provider

import (
	"context"

	"github.com/relayworks/mirage-gateway/internal/types"
)

// OperationMessages is the only operation the gateway currently dispatches.
const OperationMessages = "messages"

// Result bundles the canonical response with the raw upstream body bytes,
// which the handler persists as the pre-transform dump artifact.
type Result struct {
	Response *types.ExchangeResponse
	Raw      []byte
}

// Provider executes one buffered upstream call. Failures must be either an
// *apierr.UpstreamHTTPError (wrapped is fine) when the upstream answered
// with a non-2xx status, or a plain transport error; the exception mapper
// classifies both.
type Provider interface {
	Name() string
	SupportsOperation(op string) bool
	Execute(ctx context.Context, req *types.ExchangeRequest, model string) (*Result, error)
}
