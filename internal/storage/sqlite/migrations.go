package sqlite

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "ledger: positions, histories and slope schedule",
		SQL: `
CREATE TABLE positions (
    id          INTEGER PRIMARY KEY,
    amount      TEXT NOT NULL,
    unlock_time INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE position_points (
    position_id INTEGER NOT NULL,
    seq         INTEGER NOT NULL,
    bias        TEXT NOT NULL,
    slope       TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    block       INTEGER NOT NULL,
    PRIMARY KEY (position_id, seq),
    FOREIGN KEY (position_id) REFERENCES positions(id)
);

CREATE TABLE global_points (
    seq   INTEGER PRIMARY KEY,
    bias  TEXT NOT NULL,
    slope TEXT NOT NULL,
    ts    INTEGER NOT NULL,
    block INTEGER NOT NULL
);

CREATE INDEX idx_global_points_ts ON global_points(ts);

CREATE TABLE slope_changes (
    epoch INTEGER PRIMARY KEY,
    delta TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "ledger_ops: operations journal",
		SQL: `
CREATE TABLE ledger_ops (
    op_id       TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    position_id INTEGER,
    actor       TEXT NOT NULL,
    amount      TEXT NOT NULL,
    at          INTEGER NOT NULL,
    block       INTEGER NOT NULL
);

CREATE INDEX idx_ledger_ops_at ON ledger_ops(at DESC);
`,
	},
	{
		Version:     3,
		Description: "collaborators: position tokens and deposit balances",
		SQL: `
CREATE TABLE position_tokens (
    id     INTEGER PRIMARY KEY,
    owner  TEXT NOT NULL,
    burned INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_position_tokens_owner ON position_tokens(owner);

CREATE TABLE deposit_balances (
    owner     TEXT PRIMARY KEY,
    balance   TEXT NOT NULL,
    allowance TEXT NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
