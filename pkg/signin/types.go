// Package signin routes sign-in requests to the matching authentication flow
// and normalizes every downstream failure into a small result taxonomy. Raw
// provider errors never escape to callers.
package signin

import "github.com/tandemauth/tandem/pkg/session"

// Code classifies a failed sign-in attempt.
type Code string

const (
	// CodeInvalidCredentials is a wrong email/password combination. The
	// message is uniform regardless of which part was wrong.
	CodeInvalidCredentials Code = "invalid_credentials"
	// CodeUnknownProvider is a dispatch against a provider ID that is not
	// currently enabled
	CodeUnknownProvider Code = "unknown_provider"
	// CodeServiceUnavailable is an unreachable or timed-out downstream
	// dependency
	CodeServiceUnavailable Code = "service_unavailable"
	// CodeUnauthorized is an admin-gated operation attempted by a
	// non-admin principal
	CodeUnauthorized Code = "unauthorized"
	// CodeStaleSecondaryToken is a failed secondary probe; recovery is
	// already underway and the caller only sees a transient syncing state
	CodeStaleSecondaryToken Code = "stale_secondary_token"
	// CodeValidationError is malformed input rejected before any network
	// call
	CodeValidationError Code = "validation_error"
)

// HTTPStatus maps a code to its response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidCredentials, CodeUnauthorized:
		return 401
	case CodeUnknownProvider:
		return 404
	case CodeServiceUnavailable:
		return 503
	case CodeStaleSecondaryToken:
		return 409
	case CodeValidationError:
		return 400
	}
	return 500
}

// Provider IDs with dedicated flows.
const (
	ProviderCredentials = "credentials"
	ProviderMagicLink   = "email"
)

// Request is the sealed set of sign-in request shapes.
type Request interface {
	isSignInRequest()
}

// CredentialsRequest is an email/password sign-in.
type CredentialsRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func (CredentialsRequest) isSignInRequest() {}

// OAuthRequest starts an external provider flow.
type OAuthRequest struct {
	ProviderID string `json:"provider_id"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func (OAuthRequest) isSignInRequest() {}

// MagicLinkRequest asks for a passwordless sign-in link by email.
type MagicLinkRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func (MagicLinkRequest) isSignInRequest() {}

// Result is the outcome of a dispatch. Failures carry a code from the
// taxonomy; they are returned, never raised.
type Result struct {
	// OK reports whether the flow succeeded or was successfully started
	OK bool
	// Code classifies the failure when OK is false
	Code Code
	// Message is safe to show to the end user
	Message string
	// RedirectURL is where the caller should send the browser next: the
	// post-sign-in destination for credentials, the provider's consent
	// page for OAuth
	RedirectURL string
	// OAuthState is the anti-forgery state minted for an OAuth start; the
	// transport layer persists it (cookie) for the callback check
	OAuthState string
	// Session is the established primary session for flows that complete
	// in a single step
	Session *session.PrimarySession
}

func failure(code Code, message string) Result {
	return Result{Code: code, Message: message}
}
