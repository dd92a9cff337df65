package router

import (
	"sync"
	"time"
)

// HealthTracker holds one circuit breaker per provider, created lazily.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

func (ht *HealthTracker) breaker(provider string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[provider] = cb
	return cb
}

// IsAvailable reports whether the provider's circuit allows requests.
func (ht *HealthTracker) IsAvailable(provider string) bool {
	return ht.breaker(provider).Allow()
}

// RecordSuccess records a successful upstream call for the provider.
func (ht *HealthTracker) RecordSuccess(provider string) {
	ht.breaker(provider).RecordSuccess()
}

// RecordFailure records a failed upstream call for the provider.
func (ht *HealthTracker) RecordFailure(provider string) {
	ht.breaker(provider).RecordFailure()
}

// Snapshot returns the current circuit state per tracked provider, for the
// health endpoint.
func (ht *HealthTracker) Snapshot() map[string]string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]string, len(ht.breakers))
	for name, cb := range ht.breakers {
		out[name] = cb.State().String()
	}
	return out
}
