package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relayworks/mirage-gateway/internal/auth"
	"github.com/relayworks/mirage-gateway/internal/telemetry"
)

func serveWithIdentity(t *testing.T, id *auth.Identity) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	mw := Middleware(NewLimiter(nil), NewBudgetTracker(nil), telemetry.NewMetrics(prometheus.NewRegistry()))
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("POST", "/v1/messages", nil)
	if id != nil {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), id))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestMiddleware_PassesWithoutIdentity(t *testing.T) {
	_, called := serveWithIdentity(t, nil)
	if !called {
		t.Error("unauthenticated requests pass through for auth to handle")
	}
}

func TestMiddleware_SetsRateLimitHeaders(t *testing.T) {
	rpm := 120
	w, called := serveWithIdentity(t, &auth.Identity{KeyID: "k1", RPMLimit: &rpm})
	if !called {
		t.Fatal("handler should run under the limit")
	}
	if got := w.Header().Get("X-RateLimit-Limit-Requests"); got != "120" {
		t.Errorf("limit header = %q, want 120", got)
	}
	if w.Header().Get("X-RateLimit-Remaining-Requests") == "" {
		t.Error("remaining header missing")
	}
	if w.Header().Get("X-RateLimit-Reset-Requests") == "" {
		t.Error("reset header missing")
	}
}

func TestMiddleware_DefaultRPMWithoutKeyLimit(t *testing.T) {
	w, _ := serveWithIdentity(t, &auth.Identity{KeyID: "k1"})
	if got := w.Header().Get("X-RateLimit-Limit-Requests"); got != "60" {
		t.Errorf("limit header = %q, want default 60", got)
	}
}

func TestMiddleware_FailOpenWithoutRedis(t *testing.T) {
	// The limiter and budget tracker both run without Redis here; every
	// request must be admitted and no error envelope written.
	rpm := 1
	budget := 1
	w, called := serveWithIdentity(t, &auth.Identity{KeyID: "k1", RPMLimit: &rpm, DailyTokenBudget: &budget})
	if !called {
		t.Fatal("fail-open limiter must admit the request")
	}

	if w.Body.Len() > 0 {
		var envelope struct {
			Error struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &envelope); err == nil && envelope.Error.Type != "" {
			t.Errorf("unexpected error envelope on success: %v", envelope)
		}
	}
}
