package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tandemauth/tandem/pkg/observability"
)

// TokenIssuer derives a fresh secondary token scoped to a principal.
type TokenIssuer interface {
	IssueToken(ctx context.Context, user Principal) (string, error)
}

// Prober checks whether the secondary system accepts a token. Only an
// explicit 2xx from the secondary system counts as valid; ambiguous or
// error responses must never be reported as valid.
type Prober interface {
	Probe(ctx context.Context, token string) (bool, error)
}

// CMSClient talks to the embedded content system's authentication API.
// It implements both TokenIssuer and Prober.
type CMSClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewCMSClient creates a client for the content system. serviceKey is the
// server-to-server credential used to mint tokens on behalf of a principal.
func NewCMSClient(baseURL, serviceKey string, timeout time.Duration, logger *observability.Logger) *CMSClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &CMSClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// issueRequest is the token-minting payload sent to the content system
type issueRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// issueResponse is the content system's token-minting reply
type issueResponse struct {
	Token string `json:"token"`
}

// IssueToken requests a fresh secondary token for the principal
func (c *CMSClient) IssueToken(ctx context.Context, user Principal) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("cannot issue token for empty principal")
	}

	body, err := json.Marshal(issueRequest{UserID: user.ID, Email: user.Email})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("content system rejected token request: %s", resp.Status)
	}

	var issued issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if issued.Token == "" {
		return "", fmt.Errorf("content system returned an empty token")
	}

	c.logger.WithPrincipal(user.Email).Debug("secondary token issued")
	return issued.Token, nil
}

// Probe performs one authenticated request against the content system.
// Returns (false, nil) on an explicit rejection and (false, err) when the
// system is unreachable; both are treated as invalid by callers.
func (c *CMSClient) Probe(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/me", nil)
	if err != nil {
		return false, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
