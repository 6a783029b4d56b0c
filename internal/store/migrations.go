package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. The statements
// are kept to the subset SQLite and PostgreSQL share; timestamps are stored
// as fixed-width UTC text.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create flows",
		SQL: `
			CREATE TABLE flows (
				id            TEXT PRIMARY KEY,
				blocks        TEXT NOT NULL,
				initial_block TEXT NOT NULL,
				metadata      TEXT NOT NULL,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			);

			CREATE INDEX idx_flows_updated ON flows (updated_at);
		`,
	},
	{
		Version: 2,
		Name:    "create sessions and transcript",
		SQL: `
			CREATE TABLE sessions (
				session_id       TEXT PRIMARY KEY,
				started_at       TEXT NOT NULL,
				last_activity    TEXT NOT NULL,
				current_block_id TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_sessions_activity ON sessions (last_activity);

			CREATE TABLE session_messages (
				session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
				seq        INTEGER NOT NULL,
				direction  TEXT NOT NULL,
				content    TEXT NOT NULL,
				timestamp  TEXT NOT NULL,
				block_id   TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (session_id, seq)
			);
		`,
	},
}
