package provider

import "fmt"

// Registry holds the ordered, deduplicated list of enabled providers. It is
// computed once from the flag set and declared order, and never mutated.
type Registry struct {
	providers []Provider
	byID      map[string]Provider
}

// NewRegistry builds a registry from the resolved flag set and the declared
// priority order. The result preserves the declared order, filtered to
// providers whose flag is enabled. Absent flags disable their provider.
func NewRegistry(flags FlagSet, declared []Provider) (*Registry, error) {
	if err := validateDeclared(declared); err != nil {
		return nil, fmt.Errorf("invalid declared provider order: %w", err)
	}

	enabled := make([]Provider, 0, len(declared))
	byID := make(map[string]Provider, len(declared))
	for _, p := range declared {
		if !flags.Enabled(p.Flag) {
			continue
		}
		enabled = append(enabled, p)
		byID[p.ID] = p
	}

	return &Registry{
		providers: enabled,
		byID:      byID,
	}, nil
}

// Providers returns the enabled providers in declared order. The returned
// slice is a copy; callers cannot mutate registry state through it.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Lookup returns the enabled provider with the given ID.
func (r *Registry) Lookup(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Contains reports whether the provider ID is enabled. Hidden providers
// count: they remain valid dispatch targets.
func (r *Registry) Contains(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IsExcludedFromUI reports whether an enabled provider must not be rendered
// as a direct sign-in button. Unknown IDs return false.
func (r *Registry) IsExcludedFromUI(id string) bool {
	p, ok := r.byID[id]
	return ok && p.HideFromUI
}

// ListingEntry is the public shape of a provider in the listing endpoint.
type ListingEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PublicListing returns the enabled, UI-visible providers as {id, name}
// pairs in the registry's deterministic order.
func (r *Registry) PublicListing() []ListingEntry {
	out := make([]ListingEntry, 0, len(r.providers))
	for _, p := range r.providers {
		if p.HideFromUI {
			continue
		}
		out = append(out, ListingEntry{ID: p.ID, Name: p.Name})
	}
	return out
}
