// Package middleware provides HTTP middleware for authentication and
// request logging.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/pkg/auth"
	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
)

// AuthMiddleware authenticates requests via bearer tokens and places the
// resolved actor on the request context.
type AuthMiddleware struct {
	verifier auth.Verifier
	optional bool // if true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(verifier auth.Verifier, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		actor, err := m.verifier.Verify(parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithActor adds the authenticated actor to the context.
func WithActor(ctx context.Context, actor *auth.Actor) context.Context {
	return context.WithValue(ctx, contextkeys.ActorKey, actor)
}

// GetActor extracts the authenticated actor from the context, or nil when
// the request was not authenticated.
func GetActor(ctx context.Context) *auth.Actor {
	actor, ok := ctx.Value(contextkeys.ActorKey).(*auth.Actor)
	if !ok {
		return nil
	}
	return actor
}

// ActorID returns the authenticated actor's ID, or "" for anonymous
// requests.
func ActorID(ctx context.Context) string {
	if actor := GetActor(ctx); actor != nil {
		return actor.ID
	}
	return ""
}
