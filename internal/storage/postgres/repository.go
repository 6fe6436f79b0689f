package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"vote-escrow/internal/deposit"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/registry"
	"vote-escrow/internal/storage"
)

const (
	insertGlobalPointSQL = `INSERT INTO global_points (seq, bias, slope, ts, block)
    VALUES ($1, $2::numeric, $3::numeric, $4, $5);`

	upsertSlopeChangeSQL = `INSERT INTO slope_changes (epoch, delta)
    VALUES ($1, $2::numeric)
    ON CONFLICT (epoch) DO UPDATE
    SET delta = EXCLUDED.delta;`

	upsertPositionSQL = `INSERT INTO positions (id, amount, unlock_time)
    VALUES ($1, $2::numeric, $3)
    ON CONFLICT (id) DO UPDATE
    SET
        amount      = EXCLUDED.amount,
        unlock_time = EXCLUDED.unlock_time,
        updated_at  = now();`

	insertPositionPointSQL = `INSERT INTO position_points (position_id, seq, bias, slope, ts, block)
    VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6);`

	insertOperationSQL = `INSERT INTO ledger_ops (op_id, kind, position_id, actor, amount, at, block)
    VALUES ($1, $2, $3, $4, $5::numeric, $6, $7);`

	listGlobalPointsSQL = `SELECT 0::bigint, seq, bias::text, slope::text, ts, block
    FROM global_points
    ORDER BY seq;`

	listPositionsSQL = `SELECT id, amount::text, unlock_time FROM positions ORDER BY id;`

	listPositionPointsSQL = `SELECT position_id, seq, bias::text, slope::text, ts, block
    FROM position_points
    ORDER BY position_id, seq;`

	listSlopeChangesSQL = `SELECT epoch, delta::text FROM slope_changes ORDER BY epoch;`

	listOperationsSQL = `SELECT
        op_id::text,
        kind,
        position_id,
        actor,
        amount::text,
        at,
        block
    FROM ledger_ops
    ORDER BY at DESC, seq DESC
    LIMIT $1;`

	upsertTokenSQL = `INSERT INTO position_tokens (id, owner, burned)
    VALUES ($1, $2, $3)
    ON CONFLICT (id) DO UPDATE
    SET owner = EXCLUDED.owner, burned = EXCLUDED.burned;`

	listTokensSQL = `SELECT id, owner, burned FROM position_tokens ORDER BY id;`

	upsertAccountSQL = `INSERT INTO deposit_balances (owner, balance, allowance)
    VALUES ($1, $2::numeric, $3::numeric)
    ON CONFLICT (owner) DO UPDATE
    SET balance = EXCLUDED.balance, allowance = EXCLUDED.allowance;`

	listAccountsSQL = `SELECT owner, balance::text, allowance::text FROM deposit_balances;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store implements storage.Backend on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With().Str("component", "postgres").Logger()}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.pool, nil
}

// CommitChangeset writes a changeset in one transaction.
func (s *Store) CommitChangeset(ctx context.Context, cs ledger.Changeset) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin changeset: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, p := range cs.Global {
		rec := storage.EncodePoint(p)
		if _, err := tx.Exec(ctx, insertGlobalPointSQL,
			int64(cs.GlobalStart)+int64(i), rec.Bias, rec.Slope, rec.TS, int64(rec.Block),
		); err != nil {
			return fmt.Errorf("insert global point: %w", err)
		}
	}
	for _, sc := range cs.SlopeChanges {
		if _, err := tx.Exec(ctx, upsertSlopeChangeSQL, sc.Epoch, storage.EncodeInt(sc.Delta)); err != nil {
			return fmt.Errorf("upsert slope change: %w", err)
		}
	}

	var positionID interface{}
	if u := cs.Position; u != nil {
		positionID = int64(u.ID)
		if _, err := tx.Exec(ctx, upsertPositionSQL, int64(u.ID), storage.EncodeInt(u.Lock.Amount), u.Lock.End); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
		rec := storage.EncodePoint(u.Point)
		if _, err := tx.Exec(ctx, insertPositionPointSQL,
			int64(u.ID), int64(u.Seq), rec.Bias, rec.Slope, rec.TS, int64(rec.Block),
		); err != nil {
			return fmt.Errorf("insert position point: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, insertOperationSQL,
		cs.ID.String(), string(cs.Kind), positionID, cs.Actor.Hex(), storage.EncodeInt(cs.Amount), cs.At, int64(cs.Block),
	); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit changeset: %w", err)
	}
	return nil
}

func (s *Store) scanPoints(ctx context.Context, pool *pgxpool.Pool, query string, add func(id, seq uint64, p ledger.Point) error) error {
	rows, err := pool.Query(ctx, query)
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

// LoadLedger reads back the full ledger state.
func (s *Store) LoadLedger(ctx context.Context) (ledger.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return ledger.Snapshot{}, err
	}
	b := storage.NewSnapshotBuilder()

	if err := s.scanPoints(ctx, pool, listGlobalPointsSQL, func(_, seq uint64, p ledger.Point) error {
		return b.AddGlobal(seq, p)
	}); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load global points: %w", err)
	}

	rows, err := pool.Query(ctx, listPositionsSQL)
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
	rows.Close()
	if rows.Err() != nil {
		return ledger.Snapshot{}, rows.Err()
	}

	if err := s.scanPoints(ctx, pool, listPositionPointsSQL, b.AddPositionPoint); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load position points: %w", err)
	}

	rows, err = pool.Query(ctx, listSlopeChangesSQL)
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
	if rows.Err() != nil {
		return ledger.Snapshot{}, rows.Err()
	}
	return b.Snapshot(), nil
}

// ListOperations lists the most recent journal entries first.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]ledger.Operation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = math.MaxInt32
	}

	rows, queryErr := pool.Query(ctx, listOperationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list operations: %w", queryErr)
	}
	defer rows.Close()

	ops := make([]ledger.Operation, 0, min(limit, 256))
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		ops = append(ops, op)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ops, nil
}

func scanOperation(rows pgx.Rows) (ledger.Operation, error) {
	var (
		idStr      string
		kind       string
		positionID sql.NullInt64
		actor      string
		amountStr  string
		at         int64
		block      int64
	)
	if err := rows.Scan(&idStr, &kind, &positionID, &actor, &amountStr, &at, &block); err != nil {
		return ledger.Operation{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return ledger.Operation{}, fmt.Errorf("parse op id: %w", err)
	}
	amount, err := storage.DecodeInt(amountStr)
	if err != nil {
		return ledger.Operation{}, err
	}

	op := ledger.Operation{
		ID:     id,
		Kind:   ledger.Kind(kind),
		Actor:  common.HexToAddress(actor),
		Amount: amount,
		At:     at,
		Block:  uint64(block),
	}
	if positionID.Valid {
		op.PositionID = uint64(positionID.Int64)
	}
	return op, nil
}

// SaveToken implements registry.TokenStore.
func (s *Store) SaveToken(ctx context.Context, tok registry.Token) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertTokenSQL, int64(tok.ID), tok.Owner.Hex(), tok.Burned); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// LoadTokens implements registry.TokenStore.
func (s *Store) LoadTokens(ctx context.Context) ([]registry.Token, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listTokensSQL)
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
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, a := range accounts {
		batch.Queue(upsertAccountSQL, a.Owner.Hex(), storage.EncodeInt(a.Balance), storage.EncodeInt(a.Allowance))
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert accounts: %w", err)
	}
	return nil
}

// LoadAccounts implements deposit.AccountStore.
func (s *Store) LoadAccounts(ctx context.Context) ([]deposit.Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listAccountsSQL)
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

var (
	_ storage.Backend        = (*Store)(nil)
	_ storage.AdvisoryLocker = (*Store)(nil)
)
