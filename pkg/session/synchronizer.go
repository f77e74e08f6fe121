package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tandemauth/tandem/pkg/async"
	"github.com/tandemauth/tandem/pkg/observability"
)

// Synchronizer owns the contract between the primary session and the
// secondary token. Probe verdicts are remembered per session so that Status
// stays a pure read; recovery re-derives the token from the still-valid
// primary session and collapses concurrent attempts per principal.
type Synchronizer struct {
	store  Store
	issuer TokenIssuer
	prober Prober

	// group serializes recoveries per principal: at most one re-derivation
	// is in flight, later callers await and share its result
	group singleflight.Group

	mu        sync.RWMutex
	lastProbe map[string]bool // sessionID -> last probe verdict

	probeTimeout   time.Duration
	recoverTimeout time.Duration
	sessionTTL     time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSynchronizer creates a synchronizer. metrics may be nil.
func NewSynchronizer(store Store, issuer TokenIssuer, prober Prober, sessionTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Synchronizer {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Synchronizer{
		store:          store,
		issuer:         issuer,
		prober:         prober,
		lastProbe:      make(map[string]bool),
		probeTimeout:   5 * time.Second,
		recoverTimeout: 5 * time.Second,
		sessionTTL:     sessionTTL,
		logger:         logger,
		metrics:        metrics,
	}
}

// Establish creates and persists a new primary session for a principal.
// The new session starts unsynced: no secondary token is derived until
// consuming code first asks for one.
func (s *Synchronizer) Establish(ctx context.Context, user Principal) (*PrimarySession, error) {
	sess := New(user, s.sessionTTL)
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}
	return sess, nil
}

// SignOut destroys the primary session. The secondary token dies with it:
// the remembered probe verdict is dropped so Status immediately reports
// unauthenticated and invalid.
func (s *Synchronizer) SignOut(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.forgetProbe(sessionID)
	return nil
}

// Status returns a point-in-time view of both credentials. It is a pure
// read: no probes, no recovery, no writes.
func (s *Synchronizer) Status(ctx context.Context, sessionID string) (Status, error) {
	if sessionID == "" {
		return Status{State: StateUnauthenticated}, nil
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Status{State: StateUnauthenticated}, err
	}
	if sess == nil {
		// The session expired or was destroyed; drop its verdict so the
		// map and gauge track only live sessions
		s.forgetProbe(sessionID)
		return Status{State: StateUnauthenticated}, nil
	}

	valid := s.probeVerdict(sessionID)

	state := StateStale
	switch {
	case sess.SecondaryToken == "":
		state = StateUnsynced
		valid = false
	case valid:
		state = StateSynced
	}

	return Status{
		Primary:        sess,
		SecondaryValid: valid,
		State:          state,
	}, nil
}

// ProbeSecondary performs a single authenticated request against the
// secondary system and returns the verdict synchronously. A failed probe
// additionally kicks off a best-effort recovery in the background; that
// recovery never changes the verdict already returned for this call.
func (s *Synchronizer) ProbeSecondary(ctx context.Context, sessionID string) bool {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	if sess == nil {
		s.forgetProbe(sessionID)
		return false
	}

	verdict := false
	if sess.SecondaryToken != "" {
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		start := time.Now()
		ok, probeErr := s.prober.Probe(probeCtx, sess.SecondaryToken)
		cancel()

		// Only an explicit success counts; unreachable means invalid
		verdict = ok && probeErr == nil
		s.recordProbe(verdict, start)

		if probeErr != nil {
			s.logger.WithError(probeErr).WithField("session_id", sessionID).Warn("secondary probe failed")
		}
	}

	s.setProbeVerdict(sessionID, verdict)

	if !verdict {
		// Best-effort correction; detached from the request so a client
		// navigating away does not abort it
		s.logger.WithField("session_id", sessionID).Info("secondary token stale, scheduling recovery")
		async.SafeGo(context.WithoutCancel(ctx), s.recoverTimeout, "secondary token recovery", func(recCtx context.Context) error {
			_, err := s.Recover(recCtx, sessionID)
			return err
		})
	}

	return verdict
}

// Recover discards the current secondary token and derives a fresh one from
// the still-valid primary session, leaving the session's identity untouched.
// Concurrent recoveries for the same principal collapse into one in-flight
// derivation whose result every caller observes. If the primary session is
// gone (concurrent sign-out), recovery is a no-op.
func (s *Synchronizer) Recover(ctx context.Context, sessionID string) (*PrimarySession, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.forgetProbe(sessionID)
		return nil, nil
	}

	result, err, shared := s.group.Do("recover:"+sess.User.ID, func() (interface{}, error) {
		return s.recover(ctx, sessionID)
	})
	if shared && s.metrics != nil {
		s.metrics.RecoveryCollapsed.Inc()
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*PrimarySession), nil
}

// recover is the single-flight critical section
func (s *Synchronizer) recover(ctx context.Context, sessionID string) (*PrimarySession, error) {
	// Detached from the initiating request: recovery runs to completion
	// even if the caller goes away, and shared callers are unaffected by
	// the first caller's cancellation
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recoverTimeout)
	defer cancel()

	start := time.Now()

	// Re-read inside the critical section: a concurrent sign-out makes
	// recovery a no-op
	sess, err := s.store.Get(recCtx, sessionID)
	if err != nil {
		s.recordRecovery("error", start)
		return nil, err
	}
	if sess == nil {
		s.forgetProbe(sessionID)
		s.recordRecovery("signed_out", start)
		return nil, nil
	}

	token, err := s.issuer.IssueToken(recCtx, sess.User)
	if err != nil {
		s.setProbeVerdict(sessionID, false)
		s.recordRecovery("error", start)
		return nil, fmt.Errorf("failed to derive secondary token: %w", err)
	}

	sess.SecondaryToken = token
	if err := s.store.Save(recCtx, sess); err != nil {
		// The old token remains attached; state is never partially applied
		s.recordRecovery("error", start)
		return nil, fmt.Errorf("failed to attach secondary token: %w", err)
	}

	// The issuance response is an explicit success from the secondary
	// system, so the fresh token counts as validated
	s.setProbeVerdict(sessionID, true)
	s.recordRecovery("ok", start)
	s.logger.WithPrincipal(sess.User.Email).WithField("session_id", sessionID).Info("secondary token recovered")

	return sess, nil
}

// probeVerdict returns the last known probe result for a session
func (s *Synchronizer) probeVerdict(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastProbe[sessionID]
}

func (s *Synchronizer) setProbeVerdict(sessionID string, valid bool) {
	s.mu.Lock()
	prev, existed := s.lastProbe[sessionID]
	s.lastProbe[sessionID] = valid
	s.mu.Unlock()

	if s.metrics == nil {
		return
	}
	if valid && (!existed || !prev) {
		s.metrics.SessionsSyncedGauge.Inc()
	} else if !valid && existed && prev {
		s.metrics.SessionsSyncedGauge.Dec()
	}
}

func (s *Synchronizer) forgetProbe(sessionID string) {
	s.mu.Lock()
	prev, existed := s.lastProbe[sessionID]
	delete(s.lastProbe, sessionID)
	s.mu.Unlock()

	if s.metrics != nil && existed && prev {
		s.metrics.SessionsSyncedGauge.Dec()
	}
}

func (s *Synchronizer) recordProbe(valid bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	s.metrics.ProbesTotal.WithLabelValues(result).Inc()
	s.metrics.ProbeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func (s *Synchronizer) recordRecovery(result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecoveriesTotal.WithLabelValues(result).Inc()
	s.metrics.RecoveryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
