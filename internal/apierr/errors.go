// Package apierr is the single source of truth for the gateway's failure
// vocabulary: the upstream-status classification table, the domain error
// type, and both rendering modes (pre-stream JSON envelope and in-stream SSE
// error frame) consume the same Kind → client type mapping.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind enumerates the closed set of domain failure kinds.
type Kind int

const (
	KindAuthentication Kind = iota
	KindAuthorization
	KindNotFound
	KindRequestTooLarge
	KindRateLimit
	KindServerError
	KindOverloaded
	KindGenericExternalAPI
	KindTransformer
	KindHTTPClient
)

// ClientType returns the stable, client-facing error type string for a kind.
// This mapping is shared by the pre-stream and in-stream formatters and must
// not diverge between them.
func (k Kind) ClientType() string {
	switch k {
	case KindAuthentication:
		return "authentication_error"
	case KindAuthorization:
		return "permission_error"
	case KindNotFound:
		return "not_found_error"
	case KindRequestTooLarge:
		return "request_too_large"
	case KindRateLimit:
		return "rate_limit_error"
	case KindOverloaded:
		return "overloaded_error"
	case KindTransformer:
		return "invalid_request_error"
	case KindServerError, KindGenericExternalAPI, KindHTTPClient:
		return "api_error"
	default:
		return "api_error"
	}
}

// KindForStatus classifies an upstream HTTP status. Exact match only — any
// status outside the table is a generic external API failure.
func KindForStatus(status int) Kind {
	switch status {
	case 401:
		return KindAuthentication
	case 403:
		return KindAuthorization
	case 404:
		return KindNotFound
	case 413:
		return KindRequestTooLarge
	case 429:
		return KindRateLimit
	case 500:
		return KindServerError
	case 529:
		return KindOverloaded
	default:
		return KindGenericExternalAPI
	}
}

// DomainError is the only error type allowed to reach the response-writing
// layer. Immutable once constructed.
type DomainError struct {
	Kind          Kind
	Message       string
	CorrelationID string

	// Set for external-API kinds.
	StatusCode   int
	ResponseBody string

	cause error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.cause }

// HTTPStatus returns the status for pre-stream delivery: the mapped upstream
// status when one was captured, the kind's own status for failures the
// gateway raises itself, and 500 for internal and unclassified failures.
func (e *DomainError) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindAuthentication:
		return 401
	case KindAuthorization:
		return 403
	case KindNotFound:
		return 404
	case KindRequestTooLarge:
		return 413
	case KindRateLimit:
		return 429
	case KindOverloaded:
		return 529
	}
	return 500
}

// Detail returns the full diagnostic text including the cause chain. Used by
// the in-stream formatter, where verbosity is a debugging aid.
func (e *DomainError) Detail() string {
	parts := []string{e.Message}
	for cause := e.cause; cause != nil; cause = errors.Unwrap(cause) {
		parts = append(parts, cause.Error())
	}
	return strings.Join(parts, ": ")
}

// New constructs a DomainError of the given kind.
func New(kind Kind, message, correlationID string) *DomainError {
	return &DomainError{Kind: kind, Message: message, CorrelationID: correlationID}
}

// InvalidRequest constructs a caller-facing validation/routing failure
// (HTTP 400, invalid_request_error).
func InvalidRequest(message, correlationID string) *DomainError {
	return &DomainError{Kind: KindTransformer, Message: message, CorrelationID: correlationID, StatusCode: 400}
}

// Transformer constructs an internal transform failure. These never pass
// through the transport mapper; internal code raises them directly.
func Transformer(message, correlationID string, cause error) *DomainError {
	return &DomainError{Kind: KindTransformer, Message: message, CorrelationID: correlationID, cause: cause}
}

// UpstreamHTTPError is raised by provider adapters when the upstream call
// completed but returned a non-2xx status. The body is captured best-effort.
type UpstreamHTTPError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ReadUpstreamBody reads an upstream error body defensively: a read failure
// degrades to a placeholder, never an error.
func ReadUpstreamBody(r io.Reader) string {
	b, err := io.ReadAll(r)
	if err != nil {
		return "<unreadable upstream body>"
	}
	return string(b)
}

// MapTransportError converts a raw provider failure into the taxonomy.
// Failures carrying an upstream HTTP status are classified by the status
// table; anything else is a transport-level HttpClient failure. An error
// that is already a DomainError passes through unchanged.
func MapTransportError(err error, correlationID string) *DomainError {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr
	}

	var up *UpstreamHTTPError
	if errors.As(err, &up) {
		msg := extractUpstreamMessage(up.Body)
		if msg == "" {
			msg = fmt.Sprintf("upstream returned status %d", up.StatusCode)
		}
		return &DomainError{
			Kind:          KindForStatus(up.StatusCode),
			Message:       msg,
			CorrelationID: correlationID,
			StatusCode:    up.StatusCode,
			ResponseBody:  up.Body,
			cause:         err,
		}
	}

	return &DomainError{
		Kind:          KindHTTPClient,
		Message:       "provider request failed",
		CorrelationID: correlationID,
		cause:         err,
	}
}

// extractUpstreamMessage pulls a human-readable message out of an upstream
// error body. Both {"error":{"message":...}} and {"message":...} shapes are
// recognized; anything else yields "".
func extractUpstreamMessage(body string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return ""
	}
	if envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return envelope.Message
}
