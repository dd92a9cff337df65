package apierr

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONPreStream(t *testing.T) {
	w := httptest.NewRecorder()
	derr := MapTransportError(&UpstreamHTTPError{
		StatusCode: 429,
		Body:       `{"error":{"message":"slow down"}}`,
	}, "req_9")

	WriteJSON(w, derr, false)

	if w.Code != 429 {
		t.Errorf("expected status 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if rid := w.Header().Get("X-Request-ID"); rid != "req_9" {
		t.Errorf("expected X-Request-ID req_9, got %s", rid)
	}

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}
	if env.Error.Type != "rate_limit_error" {
		t.Errorf("expected type rate_limit_error, got %q", env.Error.Type)
	}
	if env.Error.Message != "slow down" {
		t.Errorf("expected message 'slow down', got %q", env.Error.Message)
	}
}

func TestWriteJSONInternalDefaultsTo500(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, Transformer("transform failed", "req_10", nil), false)

	if w.Code != 500 {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	var env Envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Error.Type != "invalid_request_error" {
		t.Errorf("expected invalid_request_error, got %q", env.Error.Type)
	}
}

func TestWriteJSONVerbosity(t *testing.T) {
	derr := Transformer("transform failed", "req_11", errAlways{})

	quiet := httptest.NewRecorder()
	WriteJSON(quiet, derr, false)
	if strings.Contains(quiet.Body.String(), "secret internal detail") {
		t.Error("non-verbose envelope leaked the cause chain")
	}

	verbose := httptest.NewRecorder()
	WriteJSON(verbose, derr, true)
	if !strings.Contains(verbose.Body.String(), "secret internal detail") {
		t.Error("verbose envelope should include the cause chain")
	}
}

func TestFormatSSE(t *testing.T) {
	derr := New(KindOverloaded, "upstream overloaded", "req_12")
	derr.StatusCode = 529

	record, frame := FormatSSE(derr)

	if record["type"] != "error" {
		t.Errorf("expected record type 'error', got %v", record["type"])
	}
	if record["request_id"] != "req_12" {
		t.Errorf("expected request_id req_12, got %v", record["request_id"])
	}
	inner, ok := record["error"].(map[string]any)
	if !ok {
		t.Fatal("expected nested error object")
	}
	if inner["type"] != "overloaded_error" {
		t.Errorf("expected overloaded_error, got %v", inner["type"])
	}

	s := string(frame)
	if !strings.HasPrefix(s, "event: error\ndata: ") {
		t.Errorf("frame missing SSE preamble: %q", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Errorf("frame missing terminating blank line: %q", s)
	}

	payload := strings.TrimSuffix(strings.TrimPrefix(s, "event: error\ndata: "), "\n\n")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("frame data is not valid JSON: %v", err)
	}
}

// Both rendering modes must use the same kind → type vocabulary.
func TestVocabularyConsistentAcrossModes(t *testing.T) {
	kinds := []Kind{
		KindAuthentication, KindAuthorization, KindNotFound, KindRequestTooLarge,
		KindRateLimit, KindServerError, KindOverloaded, KindGenericExternalAPI,
		KindTransformer, KindHTTPClient,
	}

	for _, kind := range kinds {
		derr := New(kind, "boom", "req_13")

		w := httptest.NewRecorder()
		WriteJSON(w, derr, false)
		var env Envelope
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("kind %v: unmarshal json envelope: %v", kind, err)
		}

		record, _ := FormatSSE(derr)
		inner := record["error"].(map[string]any)

		if env.Error.Type != inner["type"] {
			t.Errorf("kind %v: pre-stream type %q != in-stream type %v", kind, env.Error.Type, inner["type"])
		}
	}
}

type errAlways struct{}

func (errAlways) Error() string { return "secret internal detail" }
