package apierr

import (
	"encoding/json"
	"net/http"
)

// Envelope is the pre-stream JSON error body.
type Envelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteJSON renders a domain error as the pre-stream JSON envelope. Used only
// while no response bytes have been committed. When verbose is false the
// message excludes the internal cause chain.
func WriteJSON(w http.ResponseWriter, e *DomainError, verbose bool) {
	msg := e.Message
	if verbose {
		msg = e.Detail()
	}

	w.Header().Set("Content-Type", "application/json")
	if e.CorrelationID != "" {
		w.Header().Set("X-Request-ID", e.CorrelationID)
	}
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(Envelope{
		Error: ErrorBody{Type: e.Kind.ClientType(), Message: msg},
	})
}

// FormatSSE renders a domain error as an in-band SSE error frame, the only
// failure channel once a 200 streaming response has begun. The record carries
// the full diagnostic detail; the frame is the exact bytes to send.
func FormatSSE(e *DomainError) (map[string]any, []byte) {
	record := map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    e.Kind.ClientType(),
			"message": e.Detail(),
		},
	}
	if e.CorrelationID != "" {
		record["request_id"] = e.CorrelationID
	}

	data, err := json.Marshal(record)
	if err != nil {
		// Marshaling a map of strings cannot fail in practice; fall back to a
		// fixed frame rather than dropping the error signal.
		data = []byte(`{"type":"error","error":{"type":"api_error","message":"error formatting failed"}}`)
	}

	frame := append([]byte("event: error\ndata: "), data...)
	frame = append(frame, '\n', '\n')
	return record, frame
}
