package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relayworks/mirage-gateway/internal/types"
)

// recordSink captures the dump mirror and counts closes.
type recordSink struct {
	buf    bytes.Buffer
	closes int
}

func (s *recordSink) WriteResponseChunk(b []byte) { s.buf.Write(b) }
func (s *recordSink) Close()                      { s.closes++ }

type parsedFrame struct {
	Event string
	Data  map[string]any
}

func parseFrames(t *testing.T, raw string) []parsedFrame {
	t.Helper()
	var frames []parsedFrame
	for _, chunk := range strings.Split(raw, "\n\n") {
		if chunk == "" {
			continue
		}
		lines := strings.SplitN(chunk, "\n", 2)
		if len(lines) != 2 {
			t.Fatalf("malformed frame: %q", chunk)
		}
		event := strings.TrimPrefix(lines[0], "event: ")
		data := strings.TrimPrefix(lines[1], "data: ")
		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			t.Fatalf("frame data is not valid JSON: %v (%q)", err, data)
		}
		frames = append(frames, parsedFrame{Event: event, Data: payload})
	}
	return frames
}

func testOptions() Options {
	return Options{TextChunkSize: 50, ToolChunkSize: 100, BlockDelay: time.Millisecond}
}

func replay(t *testing.T, payload map[string]any) (string, *recordSink, error) {
	t.Helper()
	var out bytes.Buffer
	sink := &recordSink{}
	r := NewReplayer(&out, sink, testOptions(), "req_test")
	err := r.Replay(context.Background(), &types.ExchangeResponse{Payload: payload})
	return out.String(), sink, err
}

func TestReplayEmptyContent(t *testing.T) {
	out, sink, err := replay(t, map[string]any{
		"id":      "msg_0",
		"model":   "m",
		"content": []any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	frames := parseFrames(t, out)
	want := []string{"message_start", "message_delta", "message_stop"}
	if len(frames) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(frames))
	}
	for i, ev := range want {
		if frames[i].Event != ev {
			t.Errorf("frame %d: expected %s, got %s", i, ev, frames[i].Event)
		}
	}
	if sink.closes != 1 {
		t.Errorf("expected sink closed exactly once, got %d", sink.closes)
	}
}

func TestReplayEndToEndTextScenario(t *testing.T) {
	text := strings.Repeat("ab", 26) // 52 chars → chunks of 50 + 2
	out, sink, err := replay(t, map[string]any{
		"id":          "msg_1",
		"model":       "m",
		"content":     []any{map[string]any{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": float64(1), "output_tokens": float64(1)},
	})
	if err != nil {
		t.Fatal(err)
	}

	frames := parseFrames(t, out)
	wantEvents := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(frames) != len(wantEvents) {
		t.Fatalf("expected %d frames, got %d: %v", len(wantEvents), len(frames), out)
	}
	for i, ev := range wantEvents {
		if frames[i].Event != ev {
			t.Errorf("frame %d: expected %s, got %s", i, ev, frames[i].Event)
		}
	}

	first := frames[2].Data["delta"].(map[string]any)["text"].(string)
	second := frames[3].Data["delta"].(map[string]any)["text"].(string)
	if len(first) != 50 || len(second) != 2 {
		t.Errorf("expected 50+2 char chunks, got %d+%d", len(first), len(second))
	}
	if first+second != text {
		t.Error("delta concatenation does not reconstruct the text")
	}

	start := frames[0].Data["message"].(map[string]any)
	if start["role"] != "assistant" || start["stop_reason"] != nil {
		t.Errorf("unexpected message_start envelope: %v", start)
	}
	if got := len(start["content"].([]any)); got != 0 {
		t.Errorf("message_start content must be empty, got %d blocks", got)
	}

	delta := frames[5].Data["delta"].(map[string]any)
	if delta["stop_reason"] != "end_turn" {
		t.Errorf("expected stop_reason end_turn, got %v", delta["stop_reason"])
	}
	usage := frames[5].Data["usage"].(map[string]any)
	if usage["output_tokens"] != float64(1) {
		t.Errorf("expected usage carried into message_delta, got %v", usage)
	}

	if sink.closes != 1 {
		t.Errorf("expected sink closed exactly once, got %d", sink.closes)
	}
}

func TestReplayDefaultsStopReason(t *testing.T) {
	out, _, err := replay(t, map[string]any{"id": "msg_2", "model": "m", "content": []any{}})
	if err != nil {
		t.Fatal(err)
	}
	frames := parseFrames(t, out)
	delta := frames[1].Data["delta"].(map[string]any)
	if delta["stop_reason"] != "end_turn" {
		t.Errorf("expected default stop_reason end_turn, got %v", delta["stop_reason"])
	}
}

func TestReplayBlockOrderPreserved(t *testing.T) {
	out, _, err := replay(t, map[string]any{
		"id":    "msg_3",
		"model": "m",
		"content": []any{
			map[string]any{"type": "thinking", "thinking": "because", "signature": "sig"},
			map[string]any{"type": "text", "text": "answer"},
			map[string]any{"type": "tool_use", "id": "toolu_1", "name": "calc", "input": map[string]any{"a": float64(1)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	frames := parseFrames(t, out)
	var starts []int
	var stops []int
	for _, f := range frames {
		switch f.Event {
		case "content_block_start":
			starts = append(starts, int(f.Data["index"].(float64)))
			blockType := f.Data["content_block"].(map[string]any)["type"].(string)
			wantType := []string{"thinking", "text", "tool_use"}[len(starts)-1]
			if blockType != wantType {
				t.Errorf("block %d: expected skeleton type %s, got %s", len(starts)-1, wantType, blockType)
			}
		case "content_block_stop":
			stops = append(stops, int(f.Data["index"].(float64)))
		}
	}

	for i := 0; i < 3; i++ {
		if starts[i] != i || stops[i] != i {
			t.Fatalf("block indices out of order: starts=%v stops=%v", starts, stops)
		}
	}
}

func TestReplayMirrorsExactBytes(t *testing.T) {
	var out bytes.Buffer
	sink := &recordSink{}
	r := NewReplayer(&out, sink, testOptions(), "req_mirror")
	err := r.Replay(context.Background(), &types.ExchangeResponse{Payload: map[string]any{
		"id":      "msg_4",
		"model":   "m",
		"content": []any{map[string]any{"type": "text", "text": "hello world"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(out.Bytes(), sink.buf.Bytes()) {
		t.Error("dump mirror is not byte-identical to the client stream")
	}
}

func TestReplayCancellationClosesSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	sink := &recordSink{}
	r := NewReplayer(&out, sink, testOptions(), "req_cancel")
	err := r.Replay(ctx, &types.ExchangeResponse{Payload: map[string]any{
		"id":      "msg_5",
		"model":   "m",
		"content": []any{map[string]any{"type": "text", "text": strings.Repeat("x", 500)}},
	}})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no frames after cancellation, got %q", out.String())
	}
	if sink.closes != 1 {
		t.Errorf("expected sink closed exactly once on the abort path, got %d", sink.closes)
	}
	// No error frame either — the client is gone.
	if strings.Contains(out.String(), "event: error") {
		t.Error("cancellation must not produce an in-band error frame")
	}
}

type failAfterWriter struct {
	n      int
	writes int
}

func (w *failAfterWriter) Write(b []byte) (int, error) {
	w.writes++
	if w.writes > w.n {
		return 0, errors.New("broken pipe")
	}
	return len(b), nil
}

func TestReplayClientDisconnectStopsAndCloses(t *testing.T) {
	w := &failAfterWriter{n: 2}
	sink := &recordSink{}
	r := NewReplayer(w, sink, testOptions(), "req_gone")
	err := r.Replay(context.Background(), &types.ExchangeResponse{Payload: map[string]any{
		"id":      "msg_6",
		"model":   "m",
		"content": []any{map[string]any{"type": "text", "text": strings.Repeat("x", 500)}},
	}})

	if err == nil {
		t.Fatal("expected a write error")
	}
	if sink.closes != 1 {
		t.Errorf("expected sink closed exactly once, got %d", sink.closes)
	}
}

func TestReplayInternalFailureEmitsErrorFrame(t *testing.T) {
	// A tool input that cannot be marshaled triggers an in-band error frame.
	out, sink, err := replay(t, map[string]any{
		"id":    "msg_7",
		"model": "m",
		"content": []any{
			map[string]any{"type": "tool_use", "id": "toolu_x", "name": "f", "input": map[string]any{"bad": func() {}}},
		},
	})
	if err == nil {
		t.Fatal("expected replay to report the transform failure")
	}

	if !strings.Contains(out, "event: error") {
		t.Errorf("expected an in-band error frame, got %q", out)
	}
	if !strings.Contains(out, "invalid_request_error") {
		t.Errorf("expected invalid_request_error type in frame, got %q", out)
	}
	if sink.closes != 1 {
		t.Errorf("expected sink closed exactly once, got %d", sink.closes)
	}
	// The error frame is mirrored too.
	if !strings.Contains(sink.buf.String(), "event: error") {
		t.Error("error frame missing from the dump mirror")
	}
}

func TestReplayPacingAppliedPerBlock(t *testing.T) {
	var out bytes.Buffer
	sink := &recordSink{}
	opts := Options{TextChunkSize: 50, ToolChunkSize: 100, BlockDelay: 5 * time.Millisecond}
	r := NewReplayer(&out, sink, opts, "req_pace")

	startedAt := time.Now()
	err := r.Replay(context.Background(), &types.ExchangeResponse{Payload: map[string]any{
		"id":    "msg_8",
		"model": "m",
		"content": []any{
			map[string]any{"type": "text", "text": "a"},
			map[string]any{"type": "text", "text": "b"},
			map[string]any{"type": "text", "text": "c"},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	// The delay applies after every block, including the last.
	if elapsed := time.Since(startedAt); elapsed < 15*time.Millisecond {
		t.Errorf("expected at least 3 pacing delays (15ms), finished in %s", elapsed)
	}
}
