// Package middleware provides authentication middleware for the HTTP
// surface: resolving the session cookie into a principal and gating
// admin-only routes.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/session"
)

// SessionCookieName carries the primary session ID in the browser.
const SessionCookieName = "tandem_session"

// SessionReader is the session surface middleware needs.
type SessionReader interface {
	Status(ctx context.Context, sessionID string) (session.Status, error)
}

// principalKey carries the resolved principal through the request context
type principalKey struct{}

// PrincipalFromContext returns the signed-in principal, if any.
func PrincipalFromContext(ctx context.Context) (session.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(session.Principal)
	return p, ok
}

// withPrincipal stores the resolved principal on the context
func withPrincipal(ctx context.Context, p session.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// SessionCookie returns the primary session ID from the request, or empty.
func SessionCookie(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// SessionContext resolves the session cookie and, when the session is live,
// attaches the principal and session ID to the request context. Requests
// without a session pass through untouched; handlers decide what anonymous
// access means.
func SessionContext(sessions SessionReader, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionCookie(r)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			status, err := sessions.Status(r.Context(), sessionID)
			if err != nil {
				logger.WithError(err).Warn("session lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if status.State == session.StateUnauthenticated || status.Primary == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := observability.WithSessionID(r.Context(), sessionID)
			ctx = withPrincipal(ctx, status.Primary.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// wantsJSON reports whether the client is an API consumer rather than a
// browser navigation
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
