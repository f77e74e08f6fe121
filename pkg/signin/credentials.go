package signin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/session"
)

// ErrInvalidCredentials is returned for a wrong email or password. It is the
// same error in both cases so callers cannot learn which part was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// CredentialsAuthenticator checks an email/password pair against the
// persistent user store.
type CredentialsAuthenticator struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewCredentialsAuthenticator creates an authenticator backed by the user
// store.
func NewCredentialsAuthenticator(db *sql.DB, logger *observability.Logger) *CredentialsAuthenticator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &CredentialsAuthenticator{db: db, logger: logger}
}

// Authenticate verifies the pair and returns the principal on success. A
// missing user and a wrong password produce the identical
// ErrInvalidCredentials; only store failures surface as distinct errors.
func (a *CredentialsAuthenticator) Authenticate(ctx context.Context, email, password string) (session.Principal, error) {
	var (
		id, storedEmail, passwordHash string
	)
	query := `SELECT id, email, password_hash FROM users WHERE LOWER(email) = LOWER($1)`
	err := a.db.QueryRowContext(ctx, query, email).Scan(&id, &storedEmail, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		// Burn a comparison anyway so a missing user costs the same as a
		// wrong password
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return session.Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return session.Principal{}, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		a.logger.WithPrincipal(email).Info("password verification failed")
		return session.Principal{}, ErrInvalidCredentials
	}

	return session.Principal{ID: id, Email: storedEmail}, nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to equalize
// timing when the email does not exist
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// HashPassword produces a bcrypt hash suitable for the users table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
