// Package provider computes the set of authentication providers enabled for
// sign-in, from feature flags resolved at process start. The registry is
// immutable once built; configuration reloads construct a new registry rather
// than mutating an existing one.
package provider

import "fmt"

// Kind classifies how a provider authenticates. It is validated once when the
// registry is built, never probed at request time.
type Kind string

const (
	// KindOAuth is an external OAuth/OIDC identity provider
	KindOAuth Kind = "oauth"
	// KindCredentials is email/password sign-in
	KindCredentials Kind = "credentials"
	// KindMagicLink is passwordless email sign-in
	KindMagicLink Kind = "magic-link"
)

// valid reports whether the kind is one of the declared variants
func (k Kind) valid() bool {
	switch k {
	case KindOAuth, KindCredentials, KindMagicLink:
		return true
	}
	return false
}

// Provider describes a single sign-in method.
type Provider struct {
	// ID is the stable, unique identifier (e.g. "github")
	ID string `json:"id"`
	// Name is the human-readable display name
	Name string `json:"name"`
	// Kind is the provider's authentication mechanism
	Kind Kind `json:"kind"`
	// Flag names the feature flag gating this provider. An absent flag
	// disables the provider (closed by default).
	Flag string `json:"flag"`
	// HideFromUI marks providers that stay valid dispatch targets (e.g. the
	// programmatic magic-link flow or account linking) but must not be
	// rendered as a direct sign-in button.
	HideFromUI bool `json:"hide_from_ui"`
}

// FlagSet is a resolved boolean feature-flag map, read-only at runtime.
type FlagSet map[string]bool

// Enabled reports whether a flag is set. Absent flags are false.
func (f FlagSet) Enabled(name string) bool {
	return f[name]
}

// DefaultProviders returns the declared priority ordering: primary OAuth
// providers first, then credentials, then magic-link, then link-only methods.
func DefaultProviders() []Provider {
	return []Provider{
		{ID: "github", Name: "GitHub", Kind: KindOAuth, Flag: "github"},
		{ID: "google", Name: "Google", Kind: KindOAuth, Flag: "google"},
		{ID: "credentials", Name: "Email & Password", Kind: KindCredentials, Flag: "credentials", HideFromUI: true},
		{ID: "email", Name: "Magic Link", Kind: KindMagicLink, Flag: "magicLink", HideFromUI: true},
		{ID: "vercel", Name: "Vercel", Kind: KindOAuth, Flag: "vercel", HideFromUI: true},
	}
}

// validateDeclared checks the declared list once at registry construction.
func validateDeclared(declared []Provider) error {
	seen := make(map[string]struct{}, len(declared))
	for _, p := range declared {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id in declared order")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate provider id %q in declared order", p.ID)
		}
		seen[p.ID] = struct{}{}
		if !p.Kind.valid() {
			return fmt.Errorf("provider %q has unknown kind %q", p.ID, p.Kind)
		}
		if p.Flag == "" {
			return fmt.Errorf("provider %q has no gating flag", p.ID)
		}
	}
	return nil
}
