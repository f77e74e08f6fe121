package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tandemauth/tandem/pkg/httputil"
	"github.com/tandemauth/tandem/pkg/middleware"
	"github.com/tandemauth/tandem/pkg/session"
	"github.com/tandemauth/tandem/pkg/signin"
)

// listProviders serves the public provider listing: enabled, UI-visible
// providers as {id, name} pairs in the registry's deterministic order.
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOrError(w, http.StatusOK, s.registry.PublicListing(), "failed to write provider listing")
}

// signInRequest is the sign-in form payload; the provider ID selects the flow
type signInRequest struct {
	ProviderID string `json:"provider_id"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// signInResponse is the success payload
type signInResponse struct {
	RedirectURL string `json:"redirect_url,omitempty"`
	Message     string `json:"message,omitempty"`
}

// handleSignIn dispatches one sign-in attempt. Failure codes map onto HTTP
// statuses; the body carries the machine-readable code and a safe message.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if ok := httputil.ParseJSONOrError(w, r, &req); !ok {
		return
	}

	var dispatchReq signin.Request
	switch req.ProviderID {
	case signin.ProviderCredentials:
		dispatchReq = signin.CredentialsRequest{Email: req.Email, Password: req.Password, RedirectTo: req.RedirectTo}
	case signin.ProviderMagicLink:
		dispatchReq = signin.MagicLinkRequest{Email: req.Email, RedirectTo: req.RedirectTo}
	default:
		dispatchReq = signin.OAuthRequest{ProviderID: req.ProviderID, RedirectTo: req.RedirectTo}
	}

	res := s.signIn.Dispatch(r.Context(), dispatchReq)
	if !res.OK {
		httputil.WriteCodedError(w, res.Code.HTTPStatus(), string(res.Code), res.Message)
		return
	}

	if res.Session != nil {
		s.setSessionCookie(w, res.Session)
	}
	if res.OAuthState != "" {
		s.setOAuthStateCookie(w, res.OAuthState)
	}

	httputil.WriteJSONOrError(w, http.StatusOK, signInResponse{
		RedirectURL: res.RedirectURL,
		Message:     res.Message,
	}, "failed to write sign-in response")
}

// handleOAuthCallback finishes a provider flow. Failures send the browser
// back to the sign-in page; no provider error detail reaches the user.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	stateCookie, err := r.Cookie(oauthStateCookie)
	s.clearOAuthStateCookie(w)

	if err != nil || state == "" || stateCookie.Value != state || code == "" {
		s.logger.WithField("provider", providerID).Warn("oauth callback state mismatch")
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	user, err := s.oauth.Exchange(r.Context(), providerID, code)
	if err != nil {
		s.logger.WithError(err).WithField("provider", providerID).Error("oauth exchange failed")
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	res := s.signIn.CompleteOAuth(r.Context(), providerID, user)
	if !res.OK {
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	s.setSessionCookie(w, res.Session)
	http.Redirect(w, r, res.RedirectURL, http.StatusSeeOther)
}

// statusResponse is the session status payload; the secondary token itself
// never appears in it
type statusResponse struct {
	State          session.State      `json:"state"`
	SecondaryValid bool               `json:"secondary_valid"`
	User           *session.Principal `json:"user,omitempty"`
}

func toStatusResponse(status session.Status) statusResponse {
	resp := statusResponse{
		State:          status.State,
		SecondaryValid: status.SecondaryValid,
	}
	if status.Primary != nil {
		user := status.Primary.User
		resp.User = &user
	}
	return resp
}

// getSessionStatus reports the sync state without probing anything.
func (s *Server) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.Status(r.Context(), middleware.SessionCookie(r))
	if err != nil {
		httputil.WriteServiceUnavailable(w, "session store unavailable")
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, toStatusResponse(status), "failed to write session status")
}

// validateSecondary runs one probe against the secondary system. A failed
// probe is reported as state, not as an error: recovery is already underway.
func (s *Server) validateSecondary(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionCookie(r)
	if sessionID == "" {
		httputil.WriteUnauthorized(w, "not signed in")
		return
	}

	s.sessions.ProbeSecondary(r.Context(), sessionID)

	status, err := s.sessions.Status(r.Context(), sessionID)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "session store unavailable")
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, toStatusResponse(status), "failed to write session status")
}

// refreshSecondary forces a re-derivation of the secondary token.
func (s *Server) refreshSecondary(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionCookie(r)
	if sessionID == "" {
		httputil.WriteUnauthorized(w, "not signed in")
		return
	}

	sess, err := s.sessions.Recover(r.Context(), sessionID)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "session refresh failed")
		return
	}
	if sess == nil {
		// The primary session vanished under us
		s.clearSessionCookie(w)
		httputil.WriteUnauthorized(w, "not signed in")
		return
	}

	status, err := s.sessions.Status(r.Context(), sessionID)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "session store unavailable")
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, toStatusResponse(status), "failed to write session status")
}

// handleSignOut destroys the primary session; the secondary token dies with
// it.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionCookie(r)
	if sessionID != "" {
		if err := s.sessions.SignOut(r.Context(), sessionID); err != nil {
			httputil.WriteServiceUnavailable(w, "sign-out failed")
			return
		}
	}
	s.clearSessionCookie(w)
	httputil.WriteNoContent(w)
}

// listAdminEmails serves the configured admin emails. The route is gated,
// and the resolver re-checks the requester before disclosing anything.
func (s *Server) listAdminEmails(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	emails := s.admins.AdminEmails(r.Context(), principal.Email)
	httputil.WriteJSONOrError(w, http.StatusOK, map[string][]string{"emails": emails}, "failed to write admin emails")
}

// listAdminDomains serves the configured admin domains under the same gate.
func (s *Server) listAdminDomains(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	domains := s.admins.AdminDomains(r.Context(), principal.Email)
	httputil.WriteJSONOrError(w, http.StatusOK, map[string][]string{"domains": domains}, "failed to write admin domains")
}
