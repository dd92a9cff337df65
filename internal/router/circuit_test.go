package router

import (
	"testing"
	"time"
)

func TestCircuitBreaker_TripAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v before threshold, want closed", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("closed circuit must allow")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after threshold, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open circuit must block")
	}
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("non-consecutive failures tripped the circuit: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("freshly opened circuit must block")
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after probe interval, want half_open", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("half-open circuit must allow a probe")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("probe success should close, got %v", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("failed probe should reopen, got %v", cb.State())
	}
}

func TestHealthTracker_IndependentProviders(t *testing.T) {
	ht := NewHealthTracker(1, time.Minute)

	ht.RecordFailure("openai")
	if ht.IsAvailable("openai") {
		t.Error("openai should be tripped")
	}
	if !ht.IsAvailable("anthropic") {
		t.Error("anthropic should be untouched")
	}

	ht.RecordSuccess("anthropic")
	snap := ht.Snapshot()
	if snap["openai"] != "open" {
		t.Errorf("snapshot openai = %q, want open", snap["openai"])
	}
	if snap["anthropic"] != "closed" {
		t.Errorf("snapshot anthropic = %q, want closed", snap["anthropic"])
	}
}
