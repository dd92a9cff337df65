package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relayworks/mirage-gateway/internal/apierr"
	"github.com/relayworks/mirage-gateway/internal/types"
)

// DumpSink receives a mirror of every byte sent to the client and is closed
// exactly once when the replay terminates. *dump.Handles satisfies it.
type DumpSink interface {
	WriteResponseChunk([]byte)
	Close()
}

// Replayer converts one buffered response into a full streaming session.
// One instance serves one request; it is not reusable.
type Replayer struct {
	w             io.Writer
	flusher       http.Flusher
	sink          DumpSink
	opts          Options
	correlationID string
}

// NewReplayer creates a replayer writing frames to w (flushed after every
// frame when w supports it) and mirroring them into sink.
func NewReplayer(w io.Writer, sink DumpSink, opts Options, correlationID string) *Replayer {
	flusher, _ := w.(http.Flusher)
	return &Replayer{
		w:             w,
		flusher:       flusher,
		sink:          sink,
		opts:          opts.withDefaults(),
		correlationID: correlationID,
	}
}

// Replay walks the fixed event sequence:
//
//	message_start → (content_block_start → deltas → content_block_stop →
//	pacing delay) per block → message_delta → message_stop
//
// and closes the dump sink as its terminal action on every path, including
// cancellation and client disconnect. Internal failures after the stream has
// started are delivered in-band as a single error frame; the returned error
// is for logging only.
func (r *Replayer) Replay(ctx context.Context, resp *types.ExchangeResponse) error {
	defer r.sink.Close()

	payload := resp.Payload
	usage := resp.Usage()

	if err := r.emit(ctx, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            payload["id"],
			"type":          "message",
			"role":          "assistant",
			"model":         payload["model"],
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         usage,
		},
	}); err != nil {
		return r.fail(ctx, err)
	}

	for i, block := range resp.Content() {
		if err := r.emit(ctx, "content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         i,
			"content_block": emptySkeleton(block),
		}); err != nil {
			return r.fail(ctx, err)
		}

		deltas, err := blockDeltas(block, i, r.opts)
		if err != nil {
			return r.fail(ctx, apierr.Transformer("decompose content block", r.correlationID, err))
		}
		for _, delta := range deltas {
			if err := r.emit(ctx, "content_block_delta", delta); err != nil {
				return r.fail(ctx, err)
			}
		}

		if err := r.emit(ctx, "content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": i,
		}); err != nil {
			return r.fail(ctx, err)
		}

		if err := r.pace(ctx); err != nil {
			return err
		}
	}

	stopReason := payload["stop_reason"]
	if stopReason == nil || stopReason == "" {
		stopReason = "end_turn"
	}
	if err := r.emit(ctx, "message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": payload["stop_sequence"],
		},
		"usage": usage,
	}); err != nil {
		return r.fail(ctx, err)
	}

	if err := r.emit(ctx, "message_stop", map[string]any{"type": "message_stop"}); err != nil {
		return r.fail(ctx, err)
	}

	return nil
}

// emit marshals and writes one frame. The frame bytes go to the dump mirror
// first, then to the client, so the artifact is byte-identical to what the
// client received.
func (r *Replayer) emit(ctx context.Context, event string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return apierr.Transformer("encode stream event "+event, r.correlationID, err)
	}

	frame := make([]byte, 0, len(event)+len(data)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, event...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')

	r.sink.WriteResponseChunk(frame)
	if _, err := r.w.Write(frame); err != nil {
		return fmt.Errorf("write frame to client: %w", err)
	}
	if r.flusher != nil {
		r.flusher.Flush()
	}
	return nil
}

// pace suspends between content blocks to emulate human-perceptible stream
// pacing. Honors cancellation.
func (r *Replayer) pace(ctx context.Context) error {
	timer := time.NewTimer(r.opts.BlockDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail delivers an internal replay failure in-band. Cancellation and client
// write errors produce no error frame — the client is gone — but the error
// still propagates for logging.
func (r *Replayer) fail(ctx context.Context, err error) error {
	var derr *apierr.DomainError
	if ctx.Err() != nil {
		return err
	}
	switch e := err.(type) {
	case *apierr.DomainError:
		derr = e
	default:
		// Client write failures and other transport trouble: nothing more
		// can be delivered on this stream.
		return err
	}

	_, frame := apierr.FormatSSE(derr)
	r.sink.WriteResponseChunk(frame)
	if _, werr := r.w.Write(frame); werr == nil && r.flusher != nil {
		r.flusher.Flush()
	}
	return derr
}
