// Package identity implements the relational identity store the
// assertion store validates principals against: one existence query and
// one permission-listing query, both configured per realm.
package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/identigraph/assertkit/assert"
	"github.com/identigraph/assertkit/config"
)

// Querier is the slice of a pgx pool the store needs. Connections are
// acquired per call and released with the rows; nothing is held across
// calls.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store runs the configured principal and permission queries.
type Store struct {
	db              Querier
	principalQuery  string
	permissionQuery string
	log             logrus.FieldLogger
}

var _ assert.IdentityStore = (*Store)(nil)

// NewStore builds an identity store over db with the realm's queries.
func NewStore(db Querier, cfg *config.Asserter) *Store {
	return &Store{
		db:              db,
		principalQuery:  cfg.PrincipalQuery(),
		permissionQuery: cfg.PermissionQuery(),
		log:             logrus.StandardLogger(),
	}
}

// Connect opens a pgx pool on the realm's data source and returns a
// store bound to it.
func Connect(ctx context.Context, cfg *config.Asserter) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DataSource())
	if err != nil {
		return nil, nil, fmt.Errorf("identity: connect: %w", err)
	}
	return NewStore(pool, cfg), pool, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		s.log = log
	}
}

// Authenticate runs the existence query for username. Exactly one row
// means the principal exists; zero rows is an unknown principal and more
// than one an ambiguous identity, both denials. SQL failures are faults.
func (s *Store) Authenticate(ctx context.Context, username string) error {
	rows, err := s.db.Query(ctx, s.principalQuery, username)
	if err != nil {
		return assert.Fault(fmt.Errorf("identity: principal query: %w", err))
	}
	defer rows.Close()

	matches := 0
	for rows.Next() {
		matches++
	}
	if err := rows.Err(); err != nil {
		return assert.Fault(fmt.Errorf("identity: principal query: %w", err))
	}
	switch {
	case matches == 0:
		return assert.Denied(assert.DenyUnknownPrincipal, "principal %q not registered", username)
	case matches > 1:
		return assert.Denied(assert.DenyAmbiguousPrincipal, "principal %q matches %d identities", username, matches)
	}
	return nil
}

// Permissions lists the permission names granted to username, reading
// the first column of every row of the permission query.
func (s *Store) Permissions(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.Query(ctx, s.permissionQuery, username)
	if err != nil {
		return nil, assert.Fault(fmt.Errorf("identity: permission query: %w", err))
	}
	defer rows.Close()

	var permissions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, assert.Fault(fmt.Errorf("identity: permission row: %w", err))
		}
		permissions = append(permissions, name)
	}
	if err := rows.Err(); err != nil {
		return nil, assert.Fault(fmt.Errorf("identity: permission query: %w", err))
	}
	return permissions, nil
}
