package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoleStore is a RoleStore with scripted responses and a call counter.
type fakeRoleStore struct {
	roles map[string]string
	err   error
	calls int
}

func (f *fakeRoleStore) FindRoleByEmail(ctx context.Context, email string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[email]
	if !ok {
		return "", ErrRoleNotFound
	}
	return role, nil
}

func newTestResolver(cfg Config, store RoleStore) *Resolver {
	return NewResolver(cfg, store, 0, nil, nil)
}

func TestIsAdmin_EmptyEmail(t *testing.T) {
	store := &fakeRoleStore{roles: map[string]string{"": "admin"}}
	resolver := newTestResolver(Config{}, store)

	assert.False(t, resolver.IsAdmin(context.Background(), ""))
	assert.False(t, resolver.IsAdmin(context.Background(), "   "))
	// Fail-closed short-circuit: the store is never consulted
	assert.Zero(t, store.calls)
}

func TestIsAdmin_ConfiguredEmailCaseInsensitive(t *testing.T) {
	store := &fakeRoleStore{}
	resolver := newTestResolver(Config{Emails: []string{"founder@company.com"}}, store)

	assert.True(t, resolver.IsAdmin(context.Background(), "Founder@Company.com"))
	assert.True(t, resolver.IsAdmin(context.Background(), "founder@company.com"))
	assert.Zero(t, store.calls, "allow-list match must short-circuit the store")
}

func TestIsAdmin_ConfiguredDomain(t *testing.T) {
	store := &fakeRoleStore{}
	resolver := newTestResolver(Config{Domains: []string{"Company.com"}}, store)

	assert.True(t, resolver.IsAdmin(context.Background(), "anyone@company.com"))
	assert.False(t, resolver.IsAdmin(context.Background(), "anyone@other.com"))
	assert.False(t, resolver.IsAdmin(context.Background(), "companycom"))
}

func TestIsAdmin_StoreRole(t *testing.T) {
	store := &fakeRoleStore{roles: map[string]string{
		"ops@example.com":    "admin",
		"viewer@example.com": "viewer",
	}}
	resolver := newTestResolver(Config{}, store)

	assert.True(t, resolver.IsAdmin(context.Background(), "ops@example.com"))
	assert.False(t, resolver.IsAdmin(context.Background(), "viewer@example.com"))
	assert.False(t, resolver.IsAdmin(context.Background(), "missing@example.com"))
}

func TestIsAdmin_StoreErrorFailsClosed(t *testing.T) {
	store := &fakeRoleStore{err: errors.New("connection refused")}
	resolver := newTestResolver(Config{}, store)

	// A transient outage demotes admins rather than elevating anyone.
	// This is deliberate, accepted behavior.
	assert.False(t, resolver.IsAdmin(context.Background(), "ops@example.com"))
	assert.Equal(t, 1, store.calls)
}

func TestIsAdmin_CacheAvoidsRepeatLookups(t *testing.T) {
	store := &fakeRoleStore{roles: map[string]string{"ops@example.com": "admin"}}
	resolver := NewResolver(Config{}, store, time.Minute, nil, nil)

	assert.True(t, resolver.IsAdmin(context.Background(), "ops@example.com"))
	assert.True(t, resolver.IsAdmin(context.Background(), "ops@example.com"))
	assert.Equal(t, 1, store.calls)

	// Negative results are cached too
	assert.False(t, resolver.IsAdmin(context.Background(), "missing@example.com"))
	assert.False(t, resolver.IsAdmin(context.Background(), "missing@example.com"))
	assert.Equal(t, 2, store.calls)
}

func TestIsAdmin_StoreErrorsNotCached(t *testing.T) {
	store := &fakeRoleStore{err: errors.New("connection refused")}
	resolver := NewResolver(Config{}, store, time.Minute, nil, nil)

	assert.False(t, resolver.IsAdmin(context.Background(), "ops@example.com"))
	assert.False(t, resolver.IsAdmin(context.Background(), "ops@example.com"))
	assert.Equal(t, 2, store.calls, "errors must be retried, not cached")
}

func TestAdminEmails_GatedByRequester(t *testing.T) {
	cfg := Config{
		Emails:  []string{"founder@company.com", "cto@company.com"},
		Domains: []string{"company.com"},
	}
	store := &fakeRoleStore{}
	resolver := newTestResolver(cfg, store)

	// Non-admin requester sees nothing
	assert.Empty(t, resolver.AdminEmails(context.Background(), "rando@other.com"))
	assert.Empty(t, resolver.AdminDomains(context.Background(), "rando@other.com"))
	assert.Empty(t, resolver.AdminEmails(context.Background(), ""))

	// Admin requester sees the full configured lists
	emails := resolver.AdminEmails(context.Background(), "founder@company.com")
	require.Equal(t, cfg.Emails, emails)
	domains := resolver.AdminDomains(context.Background(), "founder@company.com")
	require.Equal(t, cfg.Domains, domains)
}

func TestAdminEmails_ReturnsCopy(t *testing.T) {
	cfg := Config{Emails: []string{"founder@company.com"}}
	resolver := newTestResolver(cfg, &fakeRoleStore{})

	emails := resolver.AdminEmails(context.Background(), "founder@company.com")
	require.Len(t, emails, 1)
	emails[0] = "mutated@evil.com"

	again := resolver.AdminEmails(context.Background(), "founder@company.com")
	assert.Equal(t, "founder@company.com", again[0])
}
