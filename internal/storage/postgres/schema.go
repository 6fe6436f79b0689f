package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
        id          BIGINT PRIMARY KEY,
        amount      NUMERIC(78,0) NOT NULL,
        unlock_time BIGINT NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE TABLE IF NOT EXISTS position_points (
        position_id BIGINT NOT NULL REFERENCES positions(id),
        seq         BIGINT NOT NULL,
        bias        NUMERIC(78,0) NOT NULL,
        slope       NUMERIC(78,0) NOT NULL,
        ts          BIGINT NOT NULL,
        block       BIGINT NOT NULL,
        PRIMARY KEY (position_id, seq)
    )`,
	`CREATE TABLE IF NOT EXISTS global_points (
        seq   BIGINT PRIMARY KEY,
        bias  NUMERIC(78,0) NOT NULL,
        slope NUMERIC(78,0) NOT NULL,
        ts    BIGINT NOT NULL,
        block BIGINT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS slope_changes (
        epoch BIGINT PRIMARY KEY,
        delta NUMERIC(78,0) NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS ledger_ops (
        op_id       UUID PRIMARY KEY,
        seq         BIGSERIAL,
        kind        TEXT NOT NULL,
        position_id BIGINT,
        actor       TEXT NOT NULL,
        amount      NUMERIC(78,0) NOT NULL,
        at          BIGINT NOT NULL,
        block       BIGINT NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_ops_at ON ledger_ops(at DESC, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS position_tokens (
        id     BIGINT PRIMARY KEY,
        owner  TEXT NOT NULL,
        burned BOOLEAN NOT NULL DEFAULT FALSE
    )`,
	`CREATE TABLE IF NOT EXISTS deposit_balances (
        owner     TEXT PRIMARY KEY,
        balance   NUMERIC(78,0) NOT NULL,
        allowance NUMERIC(78,0) NOT NULL
    )`,
}

// Migrate creates the ledger tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
