// Package admin determines whether a principal is an administrator. The
// verdict combines a static email allow-list, domain-suffix rules and a
// database role lookup, in that precedence. Every ambiguous or failing path
// resolves to "not an admin" — a transient store outage demotes rather than
// elevates.
package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tandemauth/tandem/pkg/observability"
)

// Config holds the statically configured admin allow-lists.
type Config struct {
	// Emails are exact-match admin addresses (matched case-insensitively)
	Emails []string
	// Domains are admin domains; any address under one is an admin
	Domains []string
}

// Resolver computes admin verdicts.
type Resolver struct {
	emails     []string // configured casing, for gated listing
	domains    []string
	emailSet   map[string]struct{} // lowercased, for matching
	domainSet  map[string]struct{}
	store      RoleStore
	cache      *expirable.LRU[string, string]
	timeout    time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewResolver creates a new admin resolver. cacheTTL bounds how long role
// lookups are served from memory; zero disables the cache. metrics may be nil.
func NewResolver(cfg Config, store RoleStore, cacheTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	r := &Resolver{
		emails:    append([]string(nil), cfg.Emails...),
		domains:   append([]string(nil), cfg.Domains...),
		emailSet:  make(map[string]struct{}, len(cfg.Emails)),
		domainSet: make(map[string]struct{}, len(cfg.Domains)),
		store:     store,
		timeout:   5 * time.Second,
		logger:    logger,
		metrics:   metrics,
	}

	for _, e := range cfg.Emails {
		r.emailSet[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	for _, d := range cfg.Domains {
		r.domainSet[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	if cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, string](1024, nil, cacheTTL)
	}

	return r
}

// IsAdmin reports whether the principal with the given email is an
// administrator. Precedence, short-circuiting left to right:
//
//  1. empty email: false
//  2. email in the configured allow-list: true
//  3. email's domain in the configured domain list: true
//  4. stored role equals "admin": true
//
// A failing or missing role lookup resolves to false, never to an error.
func (r *Resolver) IsAdmin(ctx context.Context, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}

	if _, ok := r.emailSet[email]; ok {
		r.recordCheck("email", true)
		return true
	}

	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		if _, ok := r.domainSet[email[at+1:]]; ok {
			r.recordCheck("domain", true)
			return true
		}
	}

	role, err := r.lookupRole(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrRoleNotFound) {
			// Fail closed: an unreachable store demotes, it never elevates
			r.logger.WithError(err).WithPrincipal(email).Warn("role lookup failed, resolving to non-admin")
		}
		r.recordCheck("store", false)
		return false
	}

	verdict := role == RoleAdmin
	r.recordCheck("store", verdict)
	return verdict
}

// AdminEmails returns the configured admin emails, but only to a requester
// who is an admin themselves. Anyone else receives an empty list.
func (r *Resolver) AdminEmails(ctx context.Context, requester string) []string {
	if !r.IsAdmin(ctx, requester) {
		return []string{}
	}
	return append([]string(nil), r.emails...)
}

// AdminDomains returns the configured admin domains, gated like AdminEmails.
func (r *Resolver) AdminDomains(ctx context.Context, requester string) []string {
	if !r.IsAdmin(ctx, requester) {
		return []string{}
	}
	return append([]string(nil), r.domains...)
}

// lookupRole consults the cache, then the store with a bounded timeout.
// Not-found results are cached as empty roles; store errors are not cached.
func (r *Resolver) lookupRole(ctx context.Context, email string) (string, error) {
	if r.cache != nil {
		if role, ok := r.cache.Get(email); ok {
			if r.metrics != nil {
				r.metrics.RoleCacheHitsTotal.Inc()
			}
			if role == "" {
				return "", ErrRoleNotFound
			}
			return role, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	role, err := r.store.FindRoleByEmail(ctx, email)
	switch {
	case err == nil:
		r.recordLookup("ok")
	case errors.Is(err, ErrRoleNotFound):
		r.recordLookup("not_found")
	default:
		r.recordLookup("error")
		return "", err
	}

	if r.cache != nil && (err == nil || errors.Is(err, ErrRoleNotFound)) {
		r.cache.Add(email, role)
	}

	return role, err
}

func (r *Resolver) recordCheck(source string, verdict bool) {
	if r.metrics == nil {
		return
	}
	v := "denied"
	if verdict {
		v = "granted"
	}
	r.metrics.AdminChecksTotal.WithLabelValues(source, v).Inc()
}

func (r *Resolver) recordLookup(status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RoleLookupsTotal.WithLabelValues(status).Inc()
}
