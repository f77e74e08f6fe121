package signin

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/provider"
	"github.com/tandemauth/tandem/pkg/session"
)

// minPasswordLength is enforced before any store access
const minPasswordLength = 8

// CredentialsFlow verifies an email/password pair.
type CredentialsFlow interface {
	Authenticate(ctx context.Context, email, password string) (session.Principal, error)
}

// OAuthFlow builds provider consent URLs.
type OAuthFlow interface {
	AuthURL(providerID, state string) (string, error)
}

// Establisher creates the primary session after a flow succeeds.
type Establisher interface {
	Establish(ctx context.Context, user session.Principal) (*session.PrimarySession, error)
}

// Dispatcher routes sign-in requests to the matching flow. Provider
// membership is checked against the registry before any network call, and
// every flow error is mapped to the result taxonomy.
type Dispatcher struct {
	registry    *provider.Registry
	credentials CredentialsFlow
	oauth       OAuthFlow
	links       LinkSender
	sessions    Establisher
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(registry *provider.Registry, credentials CredentialsFlow, oauth OAuthFlow, links LinkSender, sessions Establisher, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{
		registry:    registry,
		credentials: credentials,
		oauth:       oauth,
		links:       links,
		sessions:    sessions,
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch runs one sign-in attempt and always returns a Result; failures
// are classified, never propagated as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	switch r := req.(type) {
	case CredentialsRequest:
		return d.record(ProviderCredentials, d.dispatchCredentials(ctx, r))
	case *CredentialsRequest:
		return d.record(ProviderCredentials, d.dispatchCredentials(ctx, *r))
	case OAuthRequest:
		return d.record(r.ProviderID, d.dispatchOAuth(r))
	case *OAuthRequest:
		return d.record(r.ProviderID, d.dispatchOAuth(*r))
	case MagicLinkRequest:
		return d.record(ProviderMagicLink, d.dispatchMagicLink(ctx, r))
	case *MagicLinkRequest:
		return d.record(ProviderMagicLink, d.dispatchMagicLink(ctx, *r))
	}
	return failure(CodeValidationError, "unsupported sign-in request")
}

func (d *Dispatcher) dispatchCredentials(ctx context.Context, req CredentialsRequest) Result {
	if !validEmail(req.Email) {
		return failure(CodeValidationError, "a valid email address is required")
	}
	if len(req.Password) < minPasswordLength {
		return failure(CodeValidationError, "password is too short")
	}
	if !d.registry.Contains(ProviderCredentials) {
		return failure(CodeUnknownProvider, "password sign-in is not enabled")
	}

	user, err := d.credentials.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return failure(CodeInvalidCredentials, ErrInvalidCredentials.Error())
	}
	if err != nil {
		d.logger.WithError(err).WithPrincipal(req.Email).Error("credentials flow failed")
		return failure(CodeServiceUnavailable, "sign-in is temporarily unavailable")
	}

	sess, err := d.sessions.Establish(ctx, user)
	if err != nil {
		d.logger.WithError(err).WithPrincipal(user.Email).Error("failed to establish session")
		return failure(CodeServiceUnavailable, "sign-in is temporarily unavailable")
	}

	d.logger.WithPrincipal(user.Email).WithField("provider", ProviderCredentials).Info("sign-in succeeded")
	return Result{
		OK:          true,
		RedirectURL: safeRedirect(req.RedirectTo),
		Session:     sess,
	}
}

func (d *Dispatcher) dispatchOAuth(req OAuthRequest) Result {
	if req.ProviderID == "" {
		return failure(CodeValidationError, "a provider is required")
	}
	// Membership is decided before any network call; hidden providers are
	// still valid targets
	p, ok := d.registry.Lookup(req.ProviderID)
	if !ok {
		return failure(CodeUnknownProvider, "unknown sign-in provider")
	}
	if p.Kind != provider.KindOAuth {
		return failure(CodeValidationError, "provider does not support this flow")
	}

	state := uuid.NewString()
	url, err := d.oauth.AuthURL(req.ProviderID, state)
	if err != nil {
		d.logger.WithError(err).WithField("provider", req.ProviderID).Error("oauth start failed")
		return failure(CodeServiceUnavailable, "sign-in is temporarily unavailable")
	}

	return Result{
		OK:          true,
		RedirectURL: url,
		OAuthState:  state,
	}
}

func (d *Dispatcher) dispatchMagicLink(ctx context.Context, req MagicLinkRequest) Result {
	if !validEmail(req.Email) {
		return failure(CodeValidationError, "a valid email address is required")
	}
	if !d.registry.Contains(ProviderMagicLink) {
		return failure(CodeUnknownProvider, "magic-link sign-in is not enabled")
	}

	if err := d.links.SendSignInLink(ctx, req.Email, safeRedirect(req.RedirectTo)); err != nil {
		d.logger.WithError(err).WithPrincipal(req.Email).Error("magic link delivery failed")
		return failure(CodeServiceUnavailable, "sign-in is temporarily unavailable")
	}

	// The response is the same whether or not the address has an account
	return Result{
		OK:      true,
		Message: "check your email for a sign-in link",
	}
}

// CompleteOAuth finishes a provider callback: the exchanged identity becomes
// a primary session, starting unsynced like every other flow.
func (d *Dispatcher) CompleteOAuth(ctx context.Context, providerID string, user session.Principal) Result {
	if !d.registry.Contains(providerID) {
		return d.record(providerID, failure(CodeUnknownProvider, "unknown sign-in provider"))
	}
	if user.ID == "" {
		return d.record(providerID, failure(CodeValidationError, "provider returned no identity"))
	}

	sess, err := d.sessions.Establish(ctx, user)
	if err != nil {
		d.logger.WithError(err).WithPrincipal(user.Email).Error("failed to establish session")
		return d.record(providerID, failure(CodeServiceUnavailable, "sign-in is temporarily unavailable"))
	}

	d.logger.WithPrincipal(user.Email).WithField("provider", providerID).Info("sign-in succeeded")
	return d.record(providerID, Result{OK: true, RedirectURL: safeRedirect(""), Session: sess})
}

func (d *Dispatcher) record(providerID string, res Result) Result {
	if d.metrics != nil {
		outcome := "success"
		if !res.OK {
			outcome = string(res.Code)
		}
		d.metrics.SignInTotal.WithLabelValues(providerID, outcome).Inc()
	}
	return res
}

// validEmail accepts a plain address without display-name decoration
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// safeRedirect keeps post-sign-in navigation on this origin
func safeRedirect(redirectTo string) string {
	if redirectTo == "" {
		return "/"
	}
	if !strings.HasPrefix(redirectTo, "/") || strings.HasPrefix(redirectTo, "//") {
		return "/"
	}
	return redirectTo
}
