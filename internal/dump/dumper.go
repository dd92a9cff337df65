// Package dump persists sanitized request/response artifacts for offline
// debugging. Every write is best-effort: filesystem trouble degrades
// observability, never the request.
package dump

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/relayworks/mirage-gateway/internal/config"
)

// Dumper orchestrates sanitization, path generation and file I/O. Safe for
// concurrent use; each request gets its own Handles.
type Dumper struct {
	cfg       func() config.DumpConfig
	onFailure func(stage string)
}

// New creates a Dumper. onFailure, if non-nil, is invoked once per swallowed
// write failure (used for metrics); it must not block.
func New(cfg func() config.DumpConfig, onFailure func(stage string)) *Dumper {
	return &Dumper{cfg: cfg, onFailure: onFailure}
}

// Handles is the per-request artifact bundle. It is exclusively owned by the
// request that created it and must be closed exactly once on every exit path;
// Close is idempotent so deferred and explicit closes can coexist.
type Handles struct {
	correlationID string
	dir           string
	prefix        string
	redact        []string
	onFailure     func(stage string)

	pre   *os.File
	final *os.File

	closeOnce sync.Once
}

// Begin opens the artifact bundle for one request. With no dump directory
// configured (or one that cannot be created) it returns an inert handle whose
// methods are all no-ops, so callers never branch on configuration.
func (d *Dumper) Begin(correlationID string, headers map[string][]string, payload map[string]any) *Handles {
	cfg := d.cfg()
	h := &Handles{correlationID: correlationID, onFailure: d.onFailure}
	if cfg.Dir == "" {
		return h
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		slog.Debug("dump directory unavailable", "dir", cfg.Dir, "error", err)
		d.fail("mkdir")
		return h
	}

	h.dir = cfg.Dir
	h.prefix = PathPrefix(time.Now(), correlationID)
	h.redact = cfg.RedactHeaders

	if cfg.DumpHeaders && headers != nil {
		h.writeJSON(ArtifactHeadersOriginal, SanitizeHeaders(headers, h.redact))
	}
	if cfg.DumpRequests && payload != nil {
		h.writeJSON(ArtifactRequestOriginal, payload)
	}
	if cfg.DumpResponses {
		h.pre = h.open(ArtifactResponsePreTransform)
		h.final = h.open(ArtifactResponseFinal)
	}
	return h
}

func (d *Dumper) fail(stage string) {
	if d.onFailure != nil {
		d.onFailure(stage)
	}
}

// WriteTransformedHeaders persists the provider-bound headers (sanitized).
func (h *Handles) WriteTransformedHeaders(headers map[string][]string) {
	if h.dir == "" || headers == nil {
		return
	}
	h.writeJSON(ArtifactHeadersTransformed, SanitizeHeaders(headers, h.redact))
}

// WriteTransformedRequest persists the provider-bound request body.
func (h *Handles) WriteTransformedRequest(body []byte) {
	if h.dir == "" || len(body) == 0 {
		return
	}
	path := ArtifactPath(h.dir, h.prefix, ArtifactRequestTransformed)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		slog.Debug("dump write failed", "path", path, "error", err)
		h.fail("request-transformed")
	}
}

// WritePreTransformChunk appends raw upstream bytes to the pre-transform
// stream, flushing after every write.
func (h *Handles) WritePreTransformChunk(b []byte) {
	h.append(h.pre, b, "response-pretransform")
}

// WriteResponseChunk appends client-bound bytes to the final-response
// stream, flushing after every write. The artifact stays byte-identical to
// what the client received.
func (h *Handles) WriteResponseChunk(b []byte) {
	h.append(h.final, b, "response-final")
}

// Close closes both response streams if open. Safe to call multiple times.
func (h *Handles) Close() {
	h.closeOnce.Do(func() {
		if h.pre != nil {
			_ = h.pre.Close()
		}
		if h.final != nil {
			_ = h.final.Close()
		}
	})
}

func (h *Handles) open(a Artifact) *os.File {
	path := ArtifactPath(h.dir, h.prefix, a)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Debug("dump open failed", "path", path, "error", err)
		h.fail(a.Name)
		return nil
	}
	return f
}

func (h *Handles) writeJSON(a Artifact, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		h.fail(a.Name)
		return
	}
	path := ArtifactPath(h.dir, h.prefix, a)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Debug("dump write failed", "path", path, "error", err)
		h.fail(a.Name)
	}
}

func (h *Handles) append(f *os.File, b []byte, stage string) {
	if f == nil || len(b) == 0 {
		return
	}
	if _, err := f.Write(b); err != nil {
		slog.Debug("dump append failed", "stage", stage, "error", err)
		h.fail(stage)
		return
	}
	// Durability over throughput: these are debug artifacts, not a hot path.
	_ = f.Sync()
}

func (h *Handles) fail(stage string) {
	if h.onFailure != nil {
		h.onFailure(stage)
	}
}
