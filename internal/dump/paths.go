package dump

import (
	"fmt"
	"path/filepath"
	"time"
)

// Artifact identifies one persisted snapshot kind. The ordinal is fixed so a
// directory listing sorts artifacts chronologically by pipeline stage.
type Artifact struct {
	Ordinal int
	Name    string
	Ext     string
}

var (
	ArtifactHeadersOriginal     = Artifact{1, "headers-original", ".json"}
	ArtifactHeadersTransformed  = Artifact{2, "headers-transformed", ".json"}
	ArtifactRequestOriginal     = Artifact{3, "request-original", ".json"}
	ArtifactRequestTransformed  = Artifact{4, "request-transformed", ".json"}
	ArtifactResponsePreTransform = Artifact{5, "response-pretransform", ".sse"}
	ArtifactResponseFinal       = Artifact{6, "response-final", ".sse"}
)

const timestampLayout = "20060102T150405.000"

// PathPrefix returns the per-request filename prefix: {timestamp}_{correlationId}.
func PathPrefix(ts time.Time, correlationID string) string {
	return ts.UTC().Format(timestampLayout) + "_" + correlationID
}

// ArtifactPath builds the full path for one artifact of a request:
// {dir}/{timestamp}_{correlationId}_{ordinal}_{name}{ext}.
func ArtifactPath(dir, prefix string, a Artifact) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d_%s%s", prefix, a.Ordinal, a.Name, a.Ext))
}
