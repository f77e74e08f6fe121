package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRoleNotFound indicates the user store has no row for the given email.
var ErrRoleNotFound = errors.New("role not found")

// RoleAdmin is the stored role value that grants administrator access.
const RoleAdmin = "admin"

// RoleStore looks up a principal's stored role in the persistent user store.
type RoleStore interface {
	// FindRoleByEmail returns the role for the user with the given email.
	// Returns ErrRoleNotFound when no such user exists.
	FindRoleByEmail(ctx context.Context, email string) (string, error)
}

// SQLRoleStore implements RoleStore over database/sql.
type SQLRoleStore struct {
	db *sql.DB
}

// NewSQLRoleStore creates a new SQL-backed role store
func NewSQLRoleStore(db *sql.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

// FindRoleByEmail looks up the user's role, matching email case-insensitively
func (s *SQLRoleStore) FindRoleByEmail(ctx context.Context, email string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM users WHERE LOWER(email) = LOWER($1)`,
		email,
	).Scan(&role)

	if err == sql.ErrNoRows {
		return "", ErrRoleNotFound
	}
	if err != nil {
		return "", fmt.Errorf("role lookup failed: %w", err)
	}

	return role, nil
}
