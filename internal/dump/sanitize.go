package dump

import "strings"

// RedactionMarker replaces the value of every sensitive header in persisted
// artifacts.
const RedactionMarker = "[REDACTED]"

// baseSensitiveHeaders are always redacted, independent of configuration.
var baseSensitiveHeaders = []string{"authorization", "cookie", "set-cookie"}

// SanitizeHeaders returns a copy of headers with sensitive values replaced by
// RedactionMarker. Matching is case-insensitive against the base set plus any
// configured extras; header name casing is preserved as received and
// non-matching headers pass through unchanged.
func SanitizeHeaders(headers map[string][]string, extra []string) map[string][]string {
	sensitive := make(map[string]bool, len(baseSensitiveHeaders)+len(extra))
	for _, name := range baseSensitiveHeaders {
		sensitive[name] = true
	}
	for _, name := range extra {
		sensitive[strings.ToLower(name)] = true
	}

	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		if sensitive[strings.ToLower(name)] {
			redacted := make([]string, len(values))
			for i := range values {
				redacted[i] = RedactionMarker
			}
			out[name] = redacted
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
