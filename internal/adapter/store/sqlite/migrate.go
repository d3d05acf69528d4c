package sqlite

import (
	"context"
	"database/sql"
)

// migrate creates the schema if it doesn't exist.
func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS round_tables (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			max_rounds INTEGER NOT NULL,
			language   TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			round_table_id TEXT NOT NULL REFERENCES round_tables(id) ON DELETE CASCADE,
			name           TEXT NOT NULL,
			persona        TEXT NOT NULL,
			turn_order     INTEGER NOT NULL,
			UNIQUE (round_table_id, turn_order)
		);

		CREATE TABLE IF NOT EXISTS rounds (
			id             TEXT PRIMARY KEY,
			round_table_id TEXT NOT NULL REFERENCES round_tables(id) ON DELETE CASCADE,
			number         INTEGER NOT NULL,
			status         TEXT NOT NULL DEFAULT 'in_progress',
			created_at     TEXT NOT NULL,
			completed_at   TEXT,
			UNIQUE (round_table_id, number)
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			round_id   TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
			agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			content    TEXT NOT NULL,
			tool_calls TEXT NOT NULL DEFAULT '[]',
			citations  TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_round ON messages(round_id);

		CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			round_table_id TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'pending',
			failure_kind   TEXT NOT NULL DEFAULT '',
			current_round  INTEGER NOT NULL DEFAULT 0,
			current_phase  TEXT NOT NULL DEFAULT '',
			options        TEXT NOT NULL DEFAULT '{}',
			result         TEXT,
			error          TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			started_at     TEXT,
			completed_at   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

		CREATE TABLE IF NOT EXISTS search_cache (
			query      TEXT PRIMARY KEY,
			results    TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}
