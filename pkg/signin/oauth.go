package signin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/session"
)

// OAuthProviderConfig configures one external identity provider. Providers
// with an IssuerURL are resolved through OIDC discovery; the rest need an
// explicit endpoint or a well-known one (github).
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// IssuerURL enables OIDC discovery and ID-token verification
	IssuerURL string
	// UserInfoURL is the identity endpoint for non-OIDC providers
	UserInfoURL string
	Scopes      []string
}

// oauthProvider is one configured provider's resolved flow state
type oauthProvider struct {
	config      *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
}

// OAuthStarter builds provider consent URLs and resolves callback codes to
// principals.
type OAuthStarter struct {
	providers map[string]*oauthProvider
	logger    *observability.Logger
}

// NewOAuthStarter resolves each configured provider once at startup. OIDC
// discovery failures are startup errors, not request-time surprises.
func NewOAuthStarter(ctx context.Context, configs map[string]OAuthProviderConfig, logger *observability.Logger) (*OAuthStarter, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	providers := make(map[string]*oauthProvider, len(configs))
	for id, cfg := range configs {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("oauth provider %q is missing client credentials", id)
		}

		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		}
		p := &oauthProvider{config: oc, userInfoURL: cfg.UserInfoURL}

		switch {
		case cfg.IssuerURL != "":
			discovered, err := oidc.NewProvider(ctx, cfg.IssuerURL)
			if err != nil {
				return nil, fmt.Errorf("oidc discovery for provider %q failed: %w", id, err)
			}
			oc.Endpoint = discovered.Endpoint()
			p.verifier = discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		case id == "github":
			oc.Endpoint = github.Endpoint
			if p.userInfoURL == "" {
				p.userInfoURL = "https://api.github.com/user"
			}
		case p.userInfoURL == "":
			return nil, fmt.Errorf("oauth provider %q needs an issuer or user info URL", id)
		}

		providers[id] = p
	}

	return &OAuthStarter{providers: providers, logger: logger}, nil
}

// AuthURL returns the provider's consent page URL carrying the anti-forgery
// state.
func (s *OAuthStarter) AuthURL(providerID, state string) (string, error) {
	p, ok := s.providers[providerID]
	if !ok {
		return "", fmt.Errorf("oauth provider %q is not configured", providerID)
	}
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange trades a callback code for the provider's view of the principal.
// OIDC providers are resolved from the verified ID token; the rest from the
// user info endpoint.
func (s *OAuthStarter) Exchange(ctx context.Context, providerID, code string) (session.Principal, error) {
	p, ok := s.providers[providerID]
	if !ok {
		return session.Principal{}, fmt.Errorf("oauth provider %q is not configured", providerID)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return session.Principal{}, fmt.Errorf("code exchange with %q failed: %w", providerID, err)
	}

	if p.verifier != nil {
		return s.principalFromIDToken(ctx, p, token)
	}
	return s.principalFromUserInfo(ctx, p, token)
}

// idTokenClaims are the subset of OIDC claims this flow needs
type idTokenClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

func (s *OAuthStarter) principalFromIDToken(ctx context.Context, p *oauthProvider, token *oauth2.Token) (session.Principal, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return session.Principal{}, fmt.Errorf("provider response is missing the id token")
	}

	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return session.Principal{}, fmt.Errorf("id token verification failed: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return session.Principal{}, fmt.Errorf("failed to read id token claims: %w", err)
	}
	if claims.Subject == "" {
		return session.Principal{}, fmt.Errorf("id token has no subject")
	}

	return session.Principal{ID: claims.Subject, Email: claims.Email}, nil
}

// userInfoResponse covers the fields shared by common identity endpoints
type userInfoResponse struct {
	ID    json.Number `json:"id"`
	Email string      `json:"email"`
}

func (s *OAuthStarter) principalFromUserInfo(ctx context.Context, p *oauthProvider, token *oauth2.Token) (session.Principal, error) {
	client := p.config.Client(ctx, token)

	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return session.Principal{}, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session.Principal{}, fmt.Errorf("user info request returned %s", resp.Status)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return session.Principal{}, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.ID.String() == "" {
		return session.Principal{}, fmt.Errorf("user info has no id")
	}

	return session.Principal{ID: info.ID.String(), Email: info.Email}, nil
}
