package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relayworks/mirage-gateway/internal/apierr"
	"github.com/relayworks/mirage-gateway/internal/auth"
	"github.com/relayworks/mirage-gateway/internal/reqctx"
	"github.com/relayworks/mirage-gateway/internal/telemetry"
)

const (
	defaultRPM = 60

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware enforces the per-key request rate and daily token budget.
// Rejections are pre-stream by construction: the gate runs before any
// response bytes are written.
func Middleware(limiter *Limiter, budget *BudgetTracker, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid := reqctx.CorrelationID(r.Context())

			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				// Unauthenticated paths are not rate limited here.
				next.ServeHTTP(w, r)
				return
			}

			rpm := defaultRPM
			if id.RPMLimit != nil {
				rpm = *id.RPMLimit
			}

			result, _ := limiter.Check(r.Context(), "rpm:"+id.KeyID, int64(rpm), time.Minute)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", cid,
					"key_id", id.KeyID,
					"dimension", "rpm",
					"limit", rpm,
				)
				if metrics != nil {
					metrics.RecordRateLimitHit("rpm")
				}
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				apierr.WriteJSON(w, apierr.New(apierr.KindRateLimit,
					fmt.Sprintf("rate limit exceeded: %d requests per minute", rpm), cid), false)
				return
			}

			if id.DailyTokenBudget != nil {
				budgetResult, _ := budget.Check(r.Context(), id.KeyID, int64(*id.DailyTokenBudget))
				if !budgetResult.Allowed {
					slog.Warn("daily token budget exceeded",
						"request_id", cid,
						"key_id", id.KeyID,
						"spent_tokens", budgetResult.SpentTokens,
						"limit_tokens", budgetResult.LimitTokens,
					)
					if metrics != nil {
						metrics.RecordRateLimitHit("budget")
					}
					apierr.WriteJSON(w, apierr.New(apierr.KindRateLimit,
						fmt.Sprintf("daily token budget exceeded: spent %d of %d output tokens",
							budgetResult.SpentTokens, budgetResult.LimitTokens), cid), false)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
