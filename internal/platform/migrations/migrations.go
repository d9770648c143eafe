package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements are applied in order. Every statement is idempotent so Apply can
// run on each start.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS ledger_objects (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		type        TEXT NOT NULL DEFAULT '',
		owner_kind  TEXT NOT NULL,
		owner       TEXT NOT NULL DEFAULT '',
		version     BIGINT NOT NULL,
		data        JSON,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_objects_owner_idx ON ledger_objects (owner_kind, owner)`,
	`CREATE INDEX IF NOT EXISTS ledger_objects_kind_idx ON ledger_objects (kind)`,
	// data is stored verbatim: json, not jsonb.
	`ALTER TABLE ledger_objects ALTER COLUMN data TYPE JSON USING data::json`,
}

// Apply creates the ledger schema.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
