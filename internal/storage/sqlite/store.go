package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"vote-escrow/internal/deposit"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/registry"
	"vote-escrow/internal/storage"
)

const (
	insertGlobalPointSQL = `INSERT INTO global_points (seq, bias, slope, ts, block) VALUES (?, ?, ?, ?, ?)`

	upsertSlopeChangeSQL = `INSERT INTO slope_changes (epoch, delta) VALUES (?, ?)
    ON CONFLICT (epoch) DO UPDATE SET delta = excluded.delta`

	upsertPositionSQL = `INSERT INTO positions (id, amount, unlock_time, updated_at) VALUES (?, ?, ?, ?)
    ON CONFLICT (id) DO UPDATE SET
        amount      = excluded.amount,
        unlock_time = excluded.unlock_time,
        updated_at  = excluded.updated_at`

	insertPositionPointSQL = `INSERT INTO position_points (position_id, seq, bias, slope, ts, block) VALUES (?, ?, ?, ?, ?, ?)`

	insertOperationSQL = `INSERT INTO ledger_ops (op_id, kind, position_id, actor, amount, at, block) VALUES (?, ?, ?, ?, ?, ?, ?)`

	listOperationsSQL = `SELECT op_id, kind, position_id, actor, amount, at, block
    FROM ledger_ops
    ORDER BY at DESC, rowid DESC
    LIMIT ?`

	upsertTokenSQL = `INSERT INTO position_tokens (id, owner, burned) VALUES (?, ?, ?)
    ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, burned = excluded.burned`

	upsertAccountSQL = `INSERT INTO deposit_balances (owner, balance, allowance) VALUES (?, ?, ?)
    ON CONFLICT (owner) DO UPDATE SET balance = excluded.balance, allowance = excluded.allowance`
)

// Store implements storage.Backend on SQLite.
type Store struct {
	db *DB
}

// NewStore wraps an opened database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) getDB() (*DB, error) {
	if s == nil || s.db == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.db, nil
}

// CommitChangeset writes a changeset in one transaction.
func (s *Store) CommitChangeset(ctx context.Context, cs ledger.Changeset) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin changeset: %w", err)
	}
	defer tx.Rollback()

	for i, p := range cs.Global {
		rec := storage.EncodePoint(p)
		if _, err := tx.ExecContext(ctx, insertGlobalPointSQL,
			int64(cs.GlobalStart)+int64(i), rec.Bias, rec.Slope, rec.TS, int64(rec.Block),
		); err != nil {
			return fmt.Errorf("insert global point: %w", err)
		}
	}
	for _, sc := range cs.SlopeChanges {
		if _, err := tx.ExecContext(ctx, upsertSlopeChangeSQL, sc.Epoch, storage.EncodeInt(sc.Delta)); err != nil {
			return fmt.Errorf("upsert slope change: %w", err)
		}
	}

	var positionID sql.NullInt64
	if u := cs.Position; u != nil {
		positionID = sql.NullInt64{Int64: int64(u.ID), Valid: true}
		if _, err := tx.ExecContext(ctx, upsertPositionSQL,
			int64(u.ID), storage.EncodeInt(u.Lock.Amount), u.Lock.End, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
		rec := storage.EncodePoint(u.Point)
		if _, err := tx.ExecContext(ctx, insertPositionPointSQL,
			int64(u.ID), int64(u.Seq), rec.Bias, rec.Slope, rec.TS, int64(rec.Block),
		); err != nil {
			return fmt.Errorf("insert position point: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, insertOperationSQL,
		cs.ID.String(), string(cs.Kind), positionID, cs.Actor.Hex(), storage.EncodeInt(cs.Amount), cs.At, int64(cs.Block),
	); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset: %w", err)
	}
	return nil
}

// LoadLedger reads back the full ledger state.
func (s *Store) LoadLedger(ctx context.Context) (ledger.Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return ledger.Snapshot{}, err
	}
	b := storage.NewSnapshotBuilder()

	if err := scanPoints(ctx, db, `SELECT 0, seq, bias, slope, ts, block FROM global_points ORDER BY seq`,
		func(_, seq uint64, p ledger.Point) error { return b.AddGlobal(seq, p) },
	); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load global points: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, amount, unlock_time FROM positions ORDER BY id`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load positions: %w", err)
	}
	for rows.Next() {
		var (
			id     int64
			amount string
			end    int64
		)
		if err := rows.Scan(&id, &amount, &end); err != nil {
			rows.Close()
			return ledger.Snapshot{}, err
		}
		v, err := storage.DecodeInt(amount)
		if err != nil {
			rows.Close()
			return ledger.Snapshot{}, err
		}
		b.AddLock(uint64(id), ledger.Lock{Amount: v, End: end})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ledger.Snapshot{}, err
	}
	rows.Close()

	if err := scanPoints(ctx, db, `SELECT position_id, seq, bias, slope, ts, block FROM position_points ORDER BY position_id, seq`,
		b.AddPositionPoint,
	); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load position points: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT epoch, delta FROM slope_changes ORDER BY epoch`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load slope changes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			at    int64
			delta string
		)
		if err := rows.Scan(&at, &delta); err != nil {
			return ledger.Snapshot{}, err
		}
		v, err := storage.DecodeInt(delta)
		if err != nil {
			return ledger.Snapshot{}, err
		}
		b.AddSlopeChange(at, v)
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	return b.Snapshot(), nil
}

func scanPoints(ctx context.Context, db *DB, query string, add func(id, seq uint64, p ledger.Point) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, seq, block int64
			rec            storage.PointRecord
		)
		if err := rows.Scan(&id, &seq, &rec.Bias, &rec.Slope, &rec.TS, &block); err != nil {
			return err
		}
		rec.Block = uint64(block)
		p, err := rec.Decode()
		if err != nil {
			return err
		}
		if err := add(uint64(id), uint64(seq), p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListOperations returns the most recent journal entries first.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]ledger.Operation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = math.MaxInt32
	}

	rows, err := db.QueryContext(ctx, listOperationsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	ops := make([]ledger.Operation, 0, min(limit, 256))
	for rows.Next() {
		var (
			id, kind, actor, amount string
			positionID              sql.NullInt64
			at, block               int64
		)
		if err := rows.Scan(&id, &kind, &positionID, &actor, &amount, &at, &block); err != nil {
			return nil, err
		}
		opID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse op id: %w", err)
		}
		v, err := storage.DecodeInt(amount)
		if err != nil {
			return nil, err
		}
		ops = append(ops, ledger.Operation{
			ID:         opID,
			Kind:       ledger.Kind(kind),
			PositionID: uint64(positionID.Int64),
			Actor:      common.HexToAddress(actor),
			Amount:     v,
			At:         at,
			Block:      uint64(block),
		})
	}
	return ops, rows.Err()
}

// SaveToken implements registry.TokenStore.
func (s *Store) SaveToken(ctx context.Context, tok registry.Token) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertTokenSQL, int64(tok.ID), tok.Owner.Hex(), tok.Burned); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// LoadTokens implements registry.TokenStore.
func (s *Store) LoadTokens(ctx context.Context) ([]registry.Token, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, owner, burned FROM position_tokens ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	var out []registry.Token
	for rows.Next() {
		var (
			id     int64
			owner  string
			burned bool
		)
		if err := rows.Scan(&id, &owner, &burned); err != nil {
			return nil, err
		}
		out = append(out, registry.Token{ID: uint64(id), Owner: common.HexToAddress(owner), Burned: burned})
	}
	return out, rows.Err()
}

// SaveAccounts implements deposit.AccountStore.
func (s *Store) SaveAccounts(ctx context.Context, accounts []deposit.Account) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accounts: %w", err)
	}
	defer tx.Rollback()

	for _, a := range accounts {
		if _, err := tx.ExecContext(ctx, upsertAccountSQL,
			a.Owner.Hex(), storage.EncodeInt(a.Balance), storage.EncodeInt(a.Allowance),
		); err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}
	}
	return tx.Commit()
}

// LoadAccounts implements deposit.AccountStore.
func (s *Store) LoadAccounts(ctx context.Context) ([]deposit.Account, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT owner, balance, allowance FROM deposit_balances`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var out []deposit.Account
	for rows.Next() {
		var owner, balance, allowance string
		if err := rows.Scan(&owner, &balance, &allowance); err != nil {
			return nil, err
		}
		bal, err := storage.DecodeInt(balance)
		if err != nil {
			return nil, err
		}
		allow, err := storage.DecodeInt(allowance)
		if err != nil {
			return nil, err
		}
		out = append(out, deposit.Account{Owner: common.HexToAddress(owner), Balance: bal, Allowance: allow})
	}
	return out, rows.Err()
}

var _ storage.Backend = (*Store)(nil)
