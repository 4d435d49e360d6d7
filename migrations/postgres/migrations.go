// Package migrations embeds the SQL bootstrapping the relational schema
// the configured identity queries and the reconciliation source assume.
package migrations

import (
	"embed"

	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var migrationFS embed.FS

// FS exposes the embedded SQL for external runners.
var FS = migrationFS

// Migrations is a bun/migrate registry over the embedded files.
var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.Discover(migrationFS); err != nil {
		panic("migrations: discover: " + err.Error())
	}
}
