package signin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tandemauth/tandem/pkg/observability"
)

// LinkSender requests that a one-time sign-in link be delivered to an email
// address.
type LinkSender interface {
	SendSignInLink(ctx context.Context, email, redirectTo string) error
}

// HTTPLinkSender delegates link delivery to the auth backend's magic-link
// endpoint.
type HTTPLinkSender struct {
	endpoint   string
	serviceKey string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewHTTPLinkSender creates a sender that posts to the given endpoint with
// the server-to-server credential.
func NewHTTPLinkSender(endpoint, serviceKey string, timeout time.Duration, logger *observability.Logger) *HTTPLinkSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &HTTPLinkSender{
		endpoint:   endpoint,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// linkRequest is the delivery payload
type linkRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// SendSignInLink asks the backend to mail a one-time link. The backend
// responds identically whether or not the address has an account.
func (s *HTTPLinkSender) SendSignInLink(ctx context.Context, email, redirectTo string) error {
	body, err := json.Marshal(linkRequest{Email: email, RedirectTo: redirectTo})
	if err != nil {
		return fmt.Errorf("failed to marshal link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("link request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("link delivery rejected: %s", resp.Status)
	}

	s.logger.WithPrincipal(email).Info("sign-in link requested")
	return nil
}
