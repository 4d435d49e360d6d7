// Package recon synchronizes accounts, entitlement grants, and lookup
// values from a connected database into the identity graph. Reads are
// incremental over a change timestamp; writes go through the Target
// port so the receiving system stays replaceable.
package recon

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Account is one provisioned account row in the connected system.
type Account struct {
	bun.BaseModel `bun:"table:igt_accounts,alias:act"`

	ID        int64     `bun:"id,pk"`
	Username  string    `bun:"username"`
	Status    string    `bun:"status"`
	UpdatedAt time.Time `bun:"updated_at"`
}

// Grant links an account to an entitlement.
type Grant struct {
	bun.BaseModel `bun:"table:igt_grants,alias:grt"`

	ID          int64     `bun:"id,pk"`
	Username    string    `bun:"username"`
	Entitlement string    `bun:"entitlement"`
	UpdatedAt   time.Time `bun:"updated_at"`
}

// LookupEntry is one encoded/decoded pair of a named lookup.
type LookupEntry struct {
	bun.BaseModel `bun:"table:igt_lookups,alias:lku"`

	Name   string `bun:"name"`
	Code   string `bun:"code"`
	Decode string `bun:"decode"`
}

// Source reads reconciliation data from the connected system.
type Source interface {
	Accounts(ctx context.Context, since time.Time) ([]Account, error)
	Grants(ctx context.Context, since time.Time) ([]Grant, error)
	Lookup(ctx context.Context, name string) ([]LookupEntry, error)
}

// Target receives reconciled objects.
type Target interface {
	ApplyAccount(ctx context.Context, account Account) error
	ApplyGrant(ctx context.Context, grant Grant) error
	ApplyLookup(ctx context.Context, name string, entries []LookupEntry) error
}

// DatabaseSource is the bun-backed Source over the connected database.
type DatabaseSource struct {
	db *bun.DB
}

var _ Source = (*DatabaseSource)(nil)

// OpenSource opens the connected database from its DSN.
func OpenSource(dsn string) *DatabaseSource {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &DatabaseSource{db: bun.NewDB(sqldb, pgdialect.New())}
}

// NewDatabaseSource wraps an existing bun handle.
func NewDatabaseSource(db *bun.DB) *DatabaseSource {
	return &DatabaseSource{db: db}
}

// Close releases the underlying connection pool.
func (s *DatabaseSource) Close() error { return s.db.Close() }

// Accounts returns accounts changed after since, oldest first.
func (s *DatabaseSource) Accounts(ctx context.Context, since time.Time) ([]Account, error) {
	var accounts []Account
	err := s.db.NewSelect().
		Model(&accounts).
		Where("act.updated_at > ?", since).
		Order("act.updated_at ASC").
		Scan(ctx)
	return accounts, err
}

// Grants returns entitlement grants changed after since, oldest first.
func (s *DatabaseSource) Grants(ctx context.Context, since time.Time) ([]Grant, error) {
	var grants []Grant
	err := s.db.NewSelect().
		Model(&grants).
		Where("grt.updated_at > ?", since).
		Order("grt.updated_at ASC").
		Scan(ctx)
	return grants, err
}

// Lookup returns every entry of the named lookup.
func (s *DatabaseSource) Lookup(ctx context.Context, name string) ([]LookupEntry, error) {
	var entries []LookupEntry
	err := s.db.NewSelect().
		Model(&entries).
		Where("lku.name = ?", name).
		Order("lku.code ASC").
		Scan(ctx)
	return entries, err
}
