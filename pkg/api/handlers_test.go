package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemauth/tandem/pkg/middleware"
	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/provider"
	"github.com/tandemauth/tandem/pkg/session"
	"github.com/tandemauth/tandem/pkg/signin"
)

type fakeSessionService struct {
	statuses   map[string]session.Status
	probed     []string
	recovered  *session.PrimarySession
	recoverErr error
	signedOut  []string
}

func (f *fakeSessionService) Status(ctx context.Context, sessionID string) (session.Status, error) {
	if st, ok := f.statuses[sessionID]; ok {
		return st, nil
	}
	return session.Status{State: session.StateUnauthenticated}, nil
}

func (f *fakeSessionService) ProbeSecondary(ctx context.Context, sessionID string) bool {
	f.probed = append(f.probed, sessionID)
	return f.statuses[sessionID].SecondaryValid
}

func (f *fakeSessionService) Recover(ctx context.Context, sessionID string) (*session.PrimarySession, error) {
	return f.recovered, f.recoverErr
}

func (f *fakeSessionService) SignOut(ctx context.Context, sessionID string) error {
	f.signedOut = append(f.signedOut, sessionID)
	return nil
}

type fakeSignInService struct {
	result    signin.Result
	completed signin.Result
	lastReq   signin.Request
}

func (f *fakeSignInService) Dispatch(ctx context.Context, req signin.Request) signin.Result {
	f.lastReq = req
	return f.result
}

func (f *fakeSignInService) CompleteOAuth(ctx context.Context, providerID string, user session.Principal) signin.Result {
	return f.completed
}

type fakeExchanger struct {
	user session.Principal
	err  error
}

func (f *fakeExchanger) Exchange(ctx context.Context, providerID, code string) (session.Principal, error) {
	return f.user, f.err
}

type fakeAdminService struct {
	admins  map[string]bool
	emails  []string
	domains []string
}

func (f *fakeAdminService) IsAdmin(ctx context.Context, email string) bool { return f.admins[email] }

func (f *fakeAdminService) AdminEmails(ctx context.Context, requester string) []string {
	if !f.admins[requester] {
		return []string{}
	}
	return f.emails
}

func (f *fakeAdminService) AdminDomains(ctx context.Context, requester string) []string {
	if !f.admins[requester] {
		return []string{}
	}
	return f.domains
}

type serverFixture struct {
	server   *Server
	sessions *fakeSessionService
	signIn   *fakeSignInService
	oauth    *fakeExchanger
	admins   *fakeAdminService
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()

	flags := provider.FlagSet{}
	for _, p := range provider.DefaultProviders() {
		flags[p.Flag] = true
	}
	registry, err := provider.NewRegistry(flags, provider.DefaultProviders())
	require.NoError(t, err)

	f := &serverFixture{
		sessions: &fakeSessionService{statuses: map[string]session.Status{}},
		signIn:   &fakeSignInService{},
		oauth:    &fakeExchanger{},
		admins:   &fakeAdminService{admins: map[string]bool{}},
	}
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	f.server = NewServer(registry, f.sessions, f.signIn, f.oauth, f.admins, logger, nil, Options{SafeRoute: "/home"})
	return f
}

func withSession(f *serverFixture, sessionID, userID, email string) {
	f.sessions.statuses[sessionID] = session.Status{
		Primary: &session.PrimarySession{
			ID:        sessionID,
			User:      session.Principal{ID: userID, Email: email},
			ExpiresAt: time.Now().Add(time.Hour),
		},
		State: session.StateUnsynced,
	}
}

func sessionCookie(sessionID string) *http.Cookie {
	return &http.Cookie{Name: middleware.SessionCookieName, Value: sessionID}
}

func TestListProviders(t *testing.T) {
	f := newTestServer(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/providers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var listing []provider.ListingEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))

	// Only UI-visible providers appear, in declared order
	require.Len(t, listing, 2)
	assert.Equal(t, "github", listing[0].ID)
	assert.Equal(t, "google", listing[1].ID)
	assert.NotContains(t, rec.Body.String(), "credentials")
}

func TestHandleSignIn_CredentialsSuccess(t *testing.T) {
	f := newTestServer(t)
	f.signIn.result = signin.Result{
		OK:          true,
		RedirectURL: "/dashboard",
		Session: &session.PrimarySession{
			ID:        "sess-1",
			User:      session.Principal{ID: "u1", Email: "user@example.com"},
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}

	body := `{"provider_id":"credentials","email":"user@example.com","password":"long enough password"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.IsType(t, signin.CredentialsRequest{}, f.signIn.lastReq)

	var resp signInResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "/dashboard", resp.RedirectURL)

	cookie := findCookie(t, rec, middleware.SessionCookieName)
	assert.Equal(t, "sess-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	// The response never carries the secondary token
	assert.NotContains(t, rec.Body.String(), "secondary")
}

func TestHandleSignIn_InvalidCredentials(t *testing.T) {
	f := newTestServer(t)
	f.signIn.result = signin.Result{Code: signin.CodeInvalidCredentials, Message: "invalid email or password"}

	body := `{"provider_id":"credentials","email":"user@example.com","password":"wrong password!"}`
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_credentials")
}

func TestHandleSignIn_UnknownProvider(t *testing.T) {
	f := newTestServer(t)
	f.signIn.result = signin.Result{Code: signin.CodeUnknownProvider, Message: "unknown sign-in provider"}

	body := `{"provider_id":"myspace"}`
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader(body)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_provider")
}

func TestHandleSignIn_OAuthStartSetsStateCookie(t *testing.T) {
	f := newTestServer(t)
	f.signIn.result = signin.Result{
		OK:          true,
		RedirectURL: "https://github.com/login/oauth/authorize?state=abc",
		OAuthState:  "abc",
	}

	body := `{"provider_id":"github"}`
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	state := findCookie(t, rec, oauthStateCookie)
	assert.Equal(t, "abc", state.Value)
	assert.True(t, state.HttpOnly)
}

func TestOAuthCallback_Success(t *testing.T) {
	f := newTestServer(t)
	f.oauth.user = session.Principal{ID: "gh-1", Email: "user@example.com"}
	f.signIn.completed = signin.Result{
		OK:          true,
		RedirectURL: "/",
		Session: &session.PrimarySession{
			ID:        "sess-2",
			User:      session.Principal{ID: "gh-1", Email: "user@example.com"},
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/signin/github/callback?code=abc&state=xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "xyz"})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, "sess-2", findCookie(t, rec, middleware.SessionCookieName).Value)
}

func TestOAuthCallback_StateMismatch(t *testing.T) {
	f := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/signin/github/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "genuine"})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin", rec.Header().Get("Location"))
}

func TestOAuthCallback_ExchangeFailure(t *testing.T) {
	f := newTestServer(t)
	f.oauth.err = errors.New("provider timeout")

	req := httptest.NewRequest(http.MethodGet, "/api/signin/github/callback?code=abc&state=xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "xyz"})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin", rec.Header().Get("Location"))
	// Provider detail stays server-side
	assert.NotContains(t, rec.Body.String(), "timeout")
}

func TestGetSessionStatus(t *testing.T) {
	f := newTestServer(t)
	withSession(f, "sess-1", "u1", "user@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(sessionCookie("sess-1"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, session.StateUnsynced, resp.State)
	assert.False(t, resp.SecondaryValid)
	require.NotNil(t, resp.User)
	assert.Equal(t, "user@example.com", resp.User.Email)
}

func TestGetSessionStatus_Anonymous(t *testing.T) {
	f := newTestServer(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, session.StateUnauthenticated, resp.State)
	assert.Nil(t, resp.User)
}

func TestValidateSecondary(t *testing.T) {
	f := newTestServer(t)
	withSession(f, "sess-1", "u1", "user@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/session/validate", nil)
	req.AddCookie(sessionCookie("sess-1"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sess-1"}, f.sessions.probed)
}

func TestValidateSecondary_NotSignedIn(t *testing.T) {
	f := newTestServer(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/validate", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.sessions.probed)
}

func TestRefreshSecondary_SessionGone(t *testing.T) {
	f := newTestServer(t)
	withSession(f, "sess-1", "u1", "user@example.com")
	f.sessions.recovered = nil

	req := httptest.NewRequest(http.MethodPost, "/api/session/refresh", nil)
	req.AddCookie(sessionCookie("sess-1"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// The dead cookie is cleared
	cookie := findCookie(t, rec, middleware.SessionCookieName)
	assert.Empty(t, cookie.Value)
}

func TestSignOut(t *testing.T) {
	f := newTestServer(t)
	withSession(f, "sess-1", "u1", "user@example.com")

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.AddCookie(sessionCookie("sess-1"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sess-1"}, f.sessions.signedOut)
	assert.Empty(t, findCookie(t, rec, middleware.SessionCookieName).Value)
}

func TestAdminEmails_AdminSeesList(t *testing.T) {
	f := newTestServer(t)
	withSession(f, "sess-1", "u1", "admin@example.com")
	f.admins.admins["admin@example.com"] = true
	f.admins.emails = []string{"admin@example.com", "founder@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/emails", nil)
	req.AddCookie(sessionCookie("sess-1"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"admin@example.com", "founder@example.com"}, resp["emails"])
}

func TestAdminEmails_NonAdminForbidden(t *testing.T) {
	f := newTestServer(t)
	withSession(f, "sess-1", "u1", "user@example.com")
	f.admins.emails = []string{"admin@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/emails", nil)
	req.AddCookie(sessionCookie("sess-1"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "admin@example.com")
}

func TestAdminDomains_AnonymousForbidden(t *testing.T) {
	f := newTestServer(t)
	f.admins.domains = []string{"company.com"}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/domains", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "company.com")
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}
