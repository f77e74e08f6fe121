package middleware

import (
	"context"
	"net/http"

	"github.com/tandemauth/tandem/pkg/httputil"
	"github.com/tandemauth/tandem/pkg/observability"
)

// AdminChecker answers whether a principal may use admin surfaces.
type AdminChecker interface {
	IsAdmin(ctx context.Context, email string) bool
}

// AdminGate admits only admin principals. Browser requests that fail the
// check are redirected to the safe route with no explanation; API requests
// get a plain 403. The gate fails closed: no principal means no access.
func AdminGate(admins AdminChecker, safeRoute string, logger *observability.Logger) func(http.Handler) http.Handler {
	if safeRoute == "" {
		safeRoute = "/"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if ok && admins.IsAdmin(r.Context(), principal.Email) {
				next.ServeHTTP(w, r)
				return
			}

			if ok {
				logger.WithPrincipal(principal.Email).WithField("path", r.URL.Path).Info("admin gate denied")
			}

			if wantsJSON(r) {
				httputil.WriteForbidden(w, "forbidden")
				return
			}
			// The redirect deliberately carries no reason
			http.Redirect(w, r, safeRoute, http.StatusSeeOther)
		})
	}
}
