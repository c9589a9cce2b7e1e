package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// schema builds the DDL for one set of table names. Each set gets its own
// goose version table so several vaults can share a database.
type schema struct {
	keys         string
	memories     string
	byUserIndex  string
	versionTable string
}

func newSchema(t tables) schema {
	return schema{
		keys:         t.keys,
		memories:     t.memories,
		byUserIndex:  quoteIdent(t.rawMemories + "_user_created"),
		versionTable: t.rawMemories + "_migrations",
	}
}

func (s schema) migrations() []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: s.execAll(
				`CREATE TABLE IF NOT EXISTS `+s.keys+` (
					user_id         TEXT PRIMARY KEY,
					encrypted_key   TEXT NOT NULL,
					iv              TEXT NOT NULL,
					auth_tag        TEXT NOT NULL,
					created_at      TIMESTAMPTZ NOT NULL,
					last_rotated_at TIMESTAMPTZ NOT NULL,
					version         INTEGER NOT NULL DEFAULT 1
				)`,
				`CREATE TABLE IF NOT EXISTS `+s.memories+` (
					id                    TEXT PRIMARY KEY,
					user_id               TEXT NOT NULL,
					type                  TEXT NOT NULL,
					ciphertext            TEXT NOT NULL,
					iv                    TEXT NOT NULL,
					auth_tag              TEXT NOT NULL,
					format                TEXT NOT NULL,
					meta_bytes            INTEGER NOT NULL DEFAULT 0,
					created_at            TIMESTAMPTZ NOT NULL,
					is_short_term         BOOLEAN NOT NULL DEFAULT FALSE,
					short_term_expires_at TIMESTAMPTZ NULL,
					expires_at            TIMESTAMPTZ NULL,
					version               INTEGER NOT NULL DEFAULT 1
				)`,
				`CREATE INDEX IF NOT EXISTS `+s.byUserIndex+` ON `+s.memories+` (user_id, created_at DESC)`,
			)},
			&goose.GoFunc{RunTx: s.execAll(
				`DROP TABLE IF EXISTS `+s.memories,
				`DROP TABLE IF EXISTS `+s.keys,
			)},
		),
	}
}

func (s schema) execAll(stmts ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// runMigrations is a seam for testing the goose provider.
var runMigrations = func(ctx context.Context, db *sql.DB, s schema) error {
	versions, err := database.NewStore(database.DialectPostgres, s.versionTable)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider("", db, nil,
		goose.WithStore(versions),
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(s.migrations()...),
	)
	if err != nil {
		return err
	}

	_, err = provider.Up(ctx)
	return err
}

// Migrate creates or upgrades the vault tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db, newSchema(s.t)); err != nil {
		return fmt.Errorf("%w: migrate: %v", common.ErrStoreUnavailable, err)
	}
	return nil
}
