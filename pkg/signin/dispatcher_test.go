package signin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemauth/tandem/pkg/provider"
	"github.com/tandemauth/tandem/pkg/session"
)

type fakeCredentialsFlow struct {
	calls int
	user  session.Principal
	err   error
}

func (f *fakeCredentialsFlow) Authenticate(ctx context.Context, email, password string) (session.Principal, error) {
	f.calls++
	return f.user, f.err
}

type fakeOAuthFlow struct {
	calls int
	url   string
	err   error
}

func (f *fakeOAuthFlow) AuthURL(providerID, state string) (string, error) {
	f.calls++
	return f.url, f.err
}

type fakeLinkSender struct {
	calls int
	err   error
}

func (f *fakeLinkSender) SendSignInLink(ctx context.Context, email, redirectTo string) error {
	f.calls++
	return f.err
}

type fakeEstablisher struct {
	calls int
	err   error
}

func (f *fakeEstablisher) Establish(ctx context.Context, user session.Principal) (*session.PrimarySession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &session.PrimarySession{ID: "sess-1", User: user}, nil
}

// allEnabled builds a registry with every declared provider switched on
func allEnabled(t *testing.T) *provider.Registry {
	t.Helper()
	flags := provider.FlagSet{}
	for _, p := range provider.DefaultProviders() {
		flags[p.Flag] = true
	}
	reg, err := provider.NewRegistry(flags, provider.DefaultProviders())
	require.NoError(t, err)
	return reg
}

func newTestDispatcher(t *testing.T, reg *provider.Registry) (*Dispatcher, *fakeCredentialsFlow, *fakeOAuthFlow, *fakeLinkSender, *fakeEstablisher) {
	t.Helper()
	creds := &fakeCredentialsFlow{}
	oauth := &fakeOAuthFlow{url: "https://provider.example/authorize"}
	links := &fakeLinkSender{}
	est := &fakeEstablisher{}
	return NewDispatcher(reg, creds, oauth, links, est, nil, nil), creds, oauth, links, est
}

func TestDispatch_Credentials_Success(t *testing.T) {
	d, creds, _, _, est := newTestDispatcher(t, allEnabled(t))
	creds.user = session.Principal{ID: "u1", Email: "user@example.com"}

	res := d.Dispatch(context.Background(), CredentialsRequest{
		Email:      "user@example.com",
		Password:   "long enough password",
		RedirectTo: "/dashboard",
	})

	assert.True(t, res.OK)
	require.NotNil(t, res.Session)
	assert.Equal(t, "u1", res.Session.User.ID)
	assert.Equal(t, "/dashboard", res.RedirectURL)
	assert.Equal(t, 1, est.calls)
}

func TestDispatch_Credentials_Validation(t *testing.T) {
	d, creds, _, _, _ := newTestDispatcher(t, allEnabled(t))

	tests := []struct {
		name string
		req  CredentialsRequest
	}{
		{"empty email", CredentialsRequest{Email: "", Password: "long enough password"}},
		{"malformed email", CredentialsRequest{Email: "not-an-address", Password: "long enough password"}},
		{"decorated email", CredentialsRequest{Email: "User <user@example.com>", Password: "long enough password"}},
		{"short password", CredentialsRequest{Email: "user@example.com", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), tt.req)
			assert.False(t, res.OK)
			assert.Equal(t, CodeValidationError, res.Code)
		})
	}

	// Validation failures never reach the store
	assert.Zero(t, creds.calls)
}

func TestDispatch_Credentials_InvalidUniform(t *testing.T) {
	d, creds, _, _, est := newTestDispatcher(t, allEnabled(t))
	creds.err = ErrInvalidCredentials

	res := d.Dispatch(context.Background(), CredentialsRequest{
		Email:    "user@example.com",
		Password: "long enough password",
	})

	assert.False(t, res.OK)
	assert.Equal(t, CodeInvalidCredentials, res.Code)
	// The message never reveals whether the email exists
	assert.Equal(t, "invalid email or password", res.Message)
	assert.Zero(t, est.calls)
}

func TestDispatch_Credentials_StoreDown(t *testing.T) {
	d, creds, _, _, _ := newTestDispatcher(t, allEnabled(t))
	creds.err = errors.New("pq: connection refused")

	res := d.Dispatch(context.Background(), CredentialsRequest{
		Email:    "user@example.com",
		Password: "long enough password",
	})

	assert.False(t, res.OK)
	assert.Equal(t, CodeServiceUnavailable, res.Code)
	assert.NotContains(t, res.Message, "pq:")
}

func TestDispatch_Credentials_Disabled(t *testing.T) {
	reg, err := provider.NewRegistry(provider.FlagSet{"github": true}, provider.DefaultProviders())
	require.NoError(t, err)
	d, creds, _, _, _ := newTestDispatcher(t, reg)

	res := d.Dispatch(context.Background(), CredentialsRequest{
		Email:    "user@example.com",
		Password: "long enough password",
	})

	assert.False(t, res.OK)
	assert.Equal(t, CodeUnknownProvider, res.Code)
	assert.Zero(t, creds.calls)
}

func TestDispatch_OAuth_Start(t *testing.T) {
	d, _, oauth, _, est := newTestDispatcher(t, allEnabled(t))

	res := d.Dispatch(context.Background(), OAuthRequest{ProviderID: "github"})

	assert.True(t, res.OK)
	assert.Equal(t, "https://provider.example/authorize", res.RedirectURL)
	assert.NotEmpty(t, res.OAuthState)
	assert.Equal(t, 1, oauth.calls)
	// The session is established at the callback, not the start
	assert.Zero(t, est.calls)
}

func TestDispatch_OAuth_UnknownProvider(t *testing.T) {
	d, _, oauth, _, _ := newTestDispatcher(t, allEnabled(t))

	res := d.Dispatch(context.Background(), OAuthRequest{ProviderID: "myspace"})

	assert.False(t, res.OK)
	assert.Equal(t, CodeUnknownProvider, res.Code)
	// Rejected before any network call
	assert.Zero(t, oauth.calls)
}

func TestDispatch_OAuth_DisabledProvider(t *testing.T) {
	reg, err := provider.NewRegistry(provider.FlagSet{"github": true}, provider.DefaultProviders())
	require.NoError(t, err)
	d, _, oauth, _, _ := newTestDispatcher(t, reg)

	// google is declared but its flag is off
	res := d.Dispatch(context.Background(), OAuthRequest{ProviderID: "google"})

	assert.False(t, res.OK)
	assert.Equal(t, CodeUnknownProvider, res.Code)
	assert.Zero(t, oauth.calls)
}

func TestDispatch_OAuth_HiddenProviderStillDispatches(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t, allEnabled(t))

	// vercel is excluded from the UI listing yet remains a valid target
	res := d.Dispatch(context.Background(), OAuthRequest{ProviderID: "vercel"})
	assert.True(t, res.OK)
}

func TestDispatch_OAuth_WrongKind(t *testing.T) {
	d, _, oauth, _, _ := newTestDispatcher(t, allEnabled(t))

	res := d.Dispatch(context.Background(), OAuthRequest{ProviderID: "credentials"})

	assert.False(t, res.OK)
	assert.Equal(t, CodeValidationError, res.Code)
	assert.Zero(t, oauth.calls)
}

func TestDispatch_MagicLink(t *testing.T) {
	d, _, _, links, est := newTestDispatcher(t, allEnabled(t))

	res := d.Dispatch(context.Background(), MagicLinkRequest{Email: "user@example.com"})

	assert.True(t, res.OK)
	assert.Equal(t, 1, links.calls)
	// The link completes sign-in later; no session yet
	assert.Nil(t, res.Session)
	assert.Zero(t, est.calls)
}

func TestDispatch_MagicLink_DeliveryFailure(t *testing.T) {
	d, _, _, links, _ := newTestDispatcher(t, allEnabled(t))
	links.err = errors.New("smtp timeout")

	res := d.Dispatch(context.Background(), MagicLinkRequest{Email: "user@example.com"})

	assert.False(t, res.OK)
	assert.Equal(t, CodeServiceUnavailable, res.Code)
}

func TestCompleteOAuth(t *testing.T) {
	d, _, _, _, est := newTestDispatcher(t, allEnabled(t))

	res := d.CompleteOAuth(context.Background(), "github", session.Principal{ID: "gh-1", Email: "user@example.com"})
	assert.True(t, res.OK)
	require.NotNil(t, res.Session)
	assert.Equal(t, "gh-1", res.Session.User.ID)
	assert.Equal(t, 1, est.calls)

	res = d.CompleteOAuth(context.Background(), "myspace", session.Principal{ID: "x"})
	assert.Equal(t, CodeUnknownProvider, res.Code)

	res = d.CompleteOAuth(context.Background(), "github", session.Principal{})
	assert.Equal(t, CodeValidationError, res.Code)
}

func TestSafeRedirect(t *testing.T) {
	assert.Equal(t, "/", safeRedirect(""))
	assert.Equal(t, "/dashboard", safeRedirect("/dashboard"))
	assert.Equal(t, "/", safeRedirect("https://evil.example/phish"))
	assert.Equal(t, "/", safeRedirect("//evil.example"))
}
