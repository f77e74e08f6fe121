package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tandemauth/tandem/pkg/observability"
)

const keyPrefix = "session:"

// RedisStore implements Store backed by Redis. Sessions expire with the
// redis TTL, so no background cleanup is required.
type RedisStore struct {
	client  *redis.Client
	metrics *observability.Metrics
}

// NewRedisStore creates a new Redis-backed session store. metrics may be nil.
func NewRedisStore(client *redis.Client, metrics *observability.Metrics) *RedisStore {
	return &RedisStore{
		client:  client,
		metrics: metrics,
	}
}

// NewRedisClient connects a redis client from a URL with bounded timeouts
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// storedSession is the persisted shape. Unlike PrimarySession's outward JSON,
// it carries the secondary token; it exists only inside this store.
type storedSession struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	UserEmail      string    `json:"user_email"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	SecondaryToken string    `json:"secondary_token,omitempty"`
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Get retrieves a session, returning (nil, nil) on a miss
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*PrimarySession, error) {
	start := time.Now()

	data, err := s.client.Get(ctx, key(sessionID)).Result()
	if err == redis.Nil {
		s.record("get", "miss", start)
		return nil, nil
	}
	if err != nil {
		s.record("get", "error", start)
		return nil, fmt.Errorf("session get failed: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		// Corrupt payloads are removed rather than returned
		s.client.Del(ctx, key(sessionID))
		s.record("get", "error", start)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	s.record("get", "ok", start)
	return &PrimarySession{
		ID:             stored.ID,
		User:           Principal{ID: stored.UserID, Email: stored.UserEmail},
		IssuedAt:       stored.IssuedAt,
		ExpiresAt:      stored.ExpiresAt,
		SecondaryToken: stored.SecondaryToken,
	}, nil
}

// Save writes the session with a TTL matching its expiry
func (s *RedisStore) Save(ctx context.Context, sess *PrimarySession) error {
	start := time.Now()

	if sess == nil || sess.ID == "" || sess.User.ID == "" {
		return fmt.Errorf("session is missing id or user")
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session expiry must be in the future")
	}

	data, err := json.Marshal(storedSession{
		ID:             sess.ID,
		UserID:         sess.User.ID,
		UserEmail:      sess.User.Email,
		IssuedAt:       sess.IssuedAt,
		ExpiresAt:      sess.ExpiresAt,
		SecondaryToken: sess.SecondaryToken,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, key(sess.ID), data, ttl).Err(); err != nil {
		s.record("save", "error", start)
		return fmt.Errorf("session save failed: %w", err)
	}

	s.record("save", "ok", start)
	return nil
}

// Delete removes a session; deleting a missing key succeeds
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	start := time.Now()

	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		s.record("delete", "error", start)
		return fmt.Errorf("session delete failed: %w", err)
	}

	s.record("delete", "ok", start)
	return nil
}

func (s *RedisStore) record(op, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionOpsTotal.WithLabelValues(op, status).Inc()
	s.metrics.SessionOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
