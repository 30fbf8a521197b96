// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"

	"github.com/helpdeskhq/support-chat/internal/auth"
	"github.com/helpdeskhq/support-chat/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the resolved identity.
	IdentityKey ContextKey = "identity"
)

// ResolveIdentity resolves the request credential through the bridge and
// stores the result in the context. It never rejects: an invalid or missing
// credential resolves to Anonymous and the handler decides what an anonymous
// caller may do. Connection bootstrap endpoints rely on this.
func ResolveIdentity(bridge *auth.Bridge) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := bridge.Resolve(r)
			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAgent rejects requests whose resolved identity is not an agent.
// Mount after ResolveIdentity on the agent-facing surface.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetIdentity(r.Context()).IsAgent() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"agent authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdentity gets the resolved identity from context, Anonymous when unset.
func GetIdentity(ctx context.Context) model.Identity {
	if v := ctx.Value(IdentityKey); v != nil {
		return v.(model.Identity)
	}
	return model.Anonymous
}
