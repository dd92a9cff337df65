package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/relayworks/mirage-gateway/internal/apierr"
	"github.com/relayworks/mirage-gateway/internal/reqctx"
)

// Middleware authenticates requests. Both Authorization: Bearer and the
// x-api-key header are accepted; Anthropic SDK clients send the latter.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid := reqctx.CorrelationID(r.Context())

			token, err := extractToken(r)
			if err != "" {
				apierr.WriteJSON(w, apierr.New(apierr.KindAuthentication, err, cid), false)
				return
			}

			meta, lookupErr := store.Lookup(r.Context(), HashKey(token))
			if lookupErr != nil {
				slog.Error("key lookup failed", "error", lookupErr, "key_prefix", safePrefix(token))
				apierr.WriteJSON(w, apierr.New(apierr.KindServerError, "internal error during authentication", cid), false)
				return
			}
			if meta == nil {
				slog.Warn("auth failed: key not found", "key_prefix", safePrefix(token))
				apierr.WriteJSON(w, apierr.New(apierr.KindAuthentication, "invalid API key", cid), false)
				return
			}

			id := &Identity{
				KeyID:            meta.ID,
				KeyName:          meta.Name,
				AllowedModels:    meta.AllowedModels,
				RPMLimit:         meta.RPMLimit,
				DailyTokenBudget: meta.DailyTokenBudget,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// extractToken pulls the API key out of the request. The second return is a
// client-facing error message, empty on success.
func extractToken(r *http.Request) (string, string) {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing credentials: use Authorization: Bearer <api-key> or x-api-key"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", "invalid Authorization format: use Authorization: Bearer <api-key>"
	}
	if token == "" {
		return "", "empty API key"
	}
	return token, ""
}

// safePrefix returns a log-safe prefix of an API key, never the full key.
func safePrefix(key string) string {
	if len(key) > 20 {
		return key[:20] + "..."
	}
	return key
}
