package auth

import "context"

type contextKey string

const authContextKey contextKey = "mirage_auth"

// Identity is the authenticated key information carried on the request
// context after the middleware has run.
type Identity struct {
	KeyID            string
	KeyName          string
	AllowedModels    []string
	RPMLimit         *int
	DailyTokenBudget *int
}

// AllowsModel mirrors KeyMetadata.AllowsModel for the context-carried form.
func (id *Identity) AllowsModel(alias string) bool {
	if len(id.AllowedModels) == 0 {
		return true
	}
	for _, m := range id.AllowedModels {
		if m == alias {
			return true
		}
	}
	return false
}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, authContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(authContextKey).(*Identity)
	return id, ok
}
