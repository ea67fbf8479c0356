package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; the slice index + 1 is the schema version
// recorded in PRAGMA user_version.
var migrations = []string{
	// 1: documents and the change journal.
	`
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT '',
		is_local INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents(user_id);
	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS pending_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK(type IN ('create', 'update', 'delete')),
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_changes_document_id ON pending_changes(document_id);
	CREATE INDEX IF NOT EXISTS idx_pending_changes_timestamp ON pending_changes(timestamp);
	`,
	// 2: retry bookkeeping.
	`
	ALTER TABLE pending_changes ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE pending_changes ADD COLUMN next_attempt_at INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE pending_changes ADD COLUMN last_error TEXT NOT NULL DEFAULT '';
	ALTER TABLE pending_changes ADD COLUMN dead_letter INTEGER NOT NULL DEFAULT 0;
	`,
}

// SchemaVersion is the version a freshly opened store ends up at.
var SchemaVersion = len(migrations)

func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
	}
	return nil
}
