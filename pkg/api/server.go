// Package api exposes the session, sign-in, provider, and admin surfaces
// over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tandemauth/tandem/pkg/httputil"
	"github.com/tandemauth/tandem/pkg/middleware"
	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/provider"
	"github.com/tandemauth/tandem/pkg/session"
	"github.com/tandemauth/tandem/pkg/signin"
)

// SessionService is the session surface the handlers consume.
type SessionService interface {
	Status(ctx context.Context, sessionID string) (session.Status, error)
	ProbeSecondary(ctx context.Context, sessionID string) bool
	Recover(ctx context.Context, sessionID string) (*session.PrimarySession, error)
	SignOut(ctx context.Context, sessionID string) error
}

// SignInService routes sign-in attempts.
type SignInService interface {
	Dispatch(ctx context.Context, req signin.Request) signin.Result
	CompleteOAuth(ctx context.Context, providerID string, user session.Principal) signin.Result
}

// OAuthExchanger resolves an OAuth callback code to a principal.
type OAuthExchanger interface {
	Exchange(ctx context.Context, providerID, code string) (session.Principal, error)
}

// AdminService gates and serves the admin configuration.
type AdminService interface {
	IsAdmin(ctx context.Context, email string) bool
	AdminEmails(ctx context.Context, requester string) []string
	AdminDomains(ctx context.Context, requester string) []string
}

// Server is the HTTP API server.
type Server struct {
	router   *mux.Router
	registry *provider.Registry
	sessions SessionService
	signIn   SignInService
	oauth    OAuthExchanger
	admins   AdminService
	logger   *observability.Logger
	metrics  *observability.Metrics

	// secureCookies is disabled only for plain-HTTP development setups
	secureCookies bool
}

// Options tunes server construction.
type Options struct {
	// SecureCookies marks session cookies Secure. On by default; turn off
	// only for local development over plain HTTP.
	SecureCookies bool
	// SafeRoute is where failed admin-gate browser requests land
	SafeRoute string
}

// NewServer wires the API surface. metrics may be nil.
func NewServer(registry *provider.Registry, sessions SessionService, signIn SignInService, oauth OAuthExchanger, admins AdminService, logger *observability.Logger, metrics *observability.Metrics, opts Options) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		router:        mux.NewRouter(),
		registry:      registry,
		sessions:      sessions,
		signIn:        signIn,
		oauth:         oauth,
		admins:        admins,
		logger:        logger,
		metrics:       metrics,
		secureCookies: opts.SecureCookies,
	}
	s.setupRoutes(opts.SafeRoute)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(safeRoute string) {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	s.router.Use(httputil.RecoveryMiddleware)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	s.router.Use(middleware.SessionContext(s.sessions, s.logger))

	// Public provider listing
	s.router.HandleFunc("/api/providers", s.listProviders).Methods("GET")

	// Sign-in
	s.router.HandleFunc("/api/signin", s.handleSignIn).Methods("POST")
	s.router.HandleFunc("/api/signin/{provider}/callback", s.handleOAuthCallback).Methods("GET")

	// Session
	s.router.HandleFunc("/api/session", s.getSessionStatus).Methods("GET")
	s.router.HandleFunc("/api/session", s.handleSignOut).Methods("DELETE")
	s.router.HandleFunc("/api/session/validate", s.validateSecondary).Methods("POST")
	s.router.HandleFunc("/api/session/refresh", s.refreshSecondary).Methods("POST")

	// Admin configuration, gated
	adminRoutes := s.router.PathPrefix("/api/admin").Subrouter()
	adminRoutes.Use(middleware.AdminGate(s.admins, safeRoute, s.logger))
	adminRoutes.HandleFunc("/emails", s.listAdminEmails).Methods("GET")
	adminRoutes.HandleFunc("/domains", s.listAdminDomains).Methods("GET")
}

// Handler returns the server's root handler with tracing instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "tandem.api")
}

// ServeHTTP implements http.Handler for tests and embedding.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
