// Package badger persists the vote-escrow ledger in an embedded BadgerDB.
//
// Keys are namespaced by a short prefix and encode their numeric parts big
// endian so that prefix iteration returns rows in sequence order:
//
//	g/<seq>            global point
//	p/<id>             position lock
//	h/<id>/<seq>       position point
//	s/<epoch>          scheduled slope delta
//	o/<at>/<seq>/<id>  journal entry
//	t/<id>             position token
//	a/<owner>          deposit account
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vote-escrow/internal/deposit"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/registry"
	"vote-escrow/internal/storage"
)

var (
	prefixGlobal   = []byte("g/")
	prefixPosition = []byte("p/")
	prefixHistory  = []byte("h/")
	prefixSlope    = []byte("s/")
	prefixOp       = []byte("o/")
	prefixToken    = []byte("t/")
	prefixAccount  = []byte("a/")
)

// ErrSequenceTaken is returned when a changeset would overwrite an existing point.
var ErrSequenceTaken = errors.New("badger: ledger sequence already written")

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
	// Logger receives BadgerDB's internal messages.
	Logger zerolog.Logger
}

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

// Store implements storage.Backend on BadgerDB.
type Store struct {
	db *badger.DB
}

// Open creates and opens a BadgerDB-backed store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("database.path is required for badger")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true, Logger: zerolog.Nop()})
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) getDB() (*badger.DB, error) {
	if s == nil || s.db == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.db, nil
}

func key(prefix []byte, parts ...[]byte) []byte {
	k := append([]byte{}, prefix...)
	for i, p := range parts {
		if i > 0 {
			k = append(k, '/')
		}
		k = append(k, p...)
	}
	return k
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// i64 maps signed values onto an order-preserving unsigned encoding.
func i64(v int64) []byte {
	return u64(uint64(v) ^ (1 << 63))
}

func decodeI64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

type lockRecord struct {
	Amount string `json:"amount"`
	End    int64  `json:"end"`
}

type opRecord struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	PositionID uint64 `json:"position_id,omitempty"`
	Actor      string `json:"actor"`
	Amount     string `json:"amount"`
	At         int64  `json:"at"`
	Block      uint64 `json:"block"`
}

type tokenRecord struct {
	Owner  string `json:"owner"`
	Burned bool   `json:"burned"`
}

type accountRecord struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

func setJSON(txn *badger.Txn, k []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, raw)
}

func setNew(txn *badger.Txn, k []byte, v interface{}) error {
	_, err := txn.Get(k)
	switch {
	case err == nil:
		return ErrSequenceTaken
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	return setJSON(txn, k, v)
}

// CommitChangeset writes a changeset in one transaction.
func (s *Store) CommitChangeset(ctx context.Context, cs ledger.Changeset) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = db.Update(func(txn *badger.Txn) error {
		for i, p := range cs.Global {
			if err := setNew(txn, key(prefixGlobal, u64(cs.GlobalStart+uint64(i))), storage.EncodePoint(p)); err != nil {
				return fmt.Errorf("write global point: %w", err)
			}
		}
		for _, sc := range cs.SlopeChanges {
			if err := txn.Set(key(prefixSlope, i64(sc.Epoch)), []byte(storage.EncodeInt(sc.Delta))); err != nil {
				return fmt.Errorf("write slope change: %w", err)
			}
		}
		op := opRecord{
			ID:     cs.ID.String(),
			Kind:   string(cs.Kind),
			Actor:  cs.Actor.Hex(),
			Amount: storage.EncodeInt(cs.Amount),
			At:     cs.At,
			Block:  cs.Block,
		}
		if u := cs.Position; u != nil {
			op.PositionID = u.ID
			if err := setJSON(txn, key(prefixPosition, u64(u.ID)), lockRecord{Amount: storage.EncodeInt(u.Lock.Amount), End: u.Lock.End}); err != nil {
				return fmt.Errorf("write position: %w", err)
			}
			if err := setNew(txn, key(prefixHistory, u64(u.ID), u64(u.Seq)), storage.EncodePoint(u.Point)); err != nil {
				return fmt.Errorf("write position point: %w", err)
			}
		}
		return setJSON(txn, key(prefixOp, i64(cs.At), u64(cs.GlobalStart), cs.ID[:]), op)
	})
	if err != nil {
		return fmt.Errorf("commit changeset: %w", err)
	}
	return nil
}

func iterate(txn *badger.Txn, prefix []byte, reverse bool, fn func(k, v []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		seek = append(append([]byte{}, prefix...), 0xff)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := fn(k[len(prefix):], v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func decodePoint(v []byte) (ledger.Point, error) {
	var rec storage.PointRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return ledger.Point{}, err
	}
	return rec.Decode()
}

// LoadLedger reads back the full ledger state.
func (s *Store) LoadLedger(ctx context.Context) (ledger.Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return ledger.Snapshot{}, err
	}
	b := storage.NewSnapshotBuilder()

	err = db.View(func(txn *badger.Txn) error {
		if err := iterate(txn, prefixGlobal, false, func(k, v []byte) (bool, error) {
			p, err := decodePoint(v)
			if err != nil {
				return false, err
			}
			return true, b.AddGlobal(binary.BigEndian.Uint64(k), p)
		}); err != nil {
			return fmt.Errorf("load global points: %w", err)
		}

		if err := iterate(txn, prefixPosition, false, func(k, v []byte) (bool, error) {
			var rec lockRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return false, err
			}
			amount, err := storage.DecodeInt(rec.Amount)
			if err != nil {
				return false, err
			}
			b.AddLock(binary.BigEndian.Uint64(k), ledger.Lock{Amount: amount, End: rec.End})
			return true, nil
		}); err != nil {
			return fmt.Errorf("load positions: %w", err)
		}

		if err := iterate(txn, prefixHistory, false, func(k, v []byte) (bool, error) {
			if len(k) != 17 {
				return false, fmt.Errorf("malformed history key %x", k)
			}
			p, err := decodePoint(v)
			if err != nil {
				return false, err
			}
			return true, b.AddPositionPoint(binary.BigEndian.Uint64(k[:8]), binary.BigEndian.Uint64(k[9:]), p)
		}); err != nil {
			return fmt.Errorf("load position points: %w", err)
		}

		return iterate(txn, prefixSlope, false, func(k, v []byte) (bool, error) {
			delta, err := storage.DecodeInt(string(v))
			if err != nil {
				return false, err
			}
			b.AddSlopeChange(decodeI64(k), delta)
			return true, nil
		})
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return b.Snapshot(), nil
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

	var ops []ledger.Operation
	err = db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixOp, true, func(_, v []byte) (bool, error) {
			var rec opRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return false, err
			}
			id, err := uuid.Parse(rec.ID)
			if err != nil {
				return false, err
			}
			amount, err := storage.DecodeInt(rec.Amount)
			if err != nil {
				return false, err
			}
			ops = append(ops, ledger.Operation{
				ID:         id,
				Kind:       ledger.Kind(rec.Kind),
				PositionID: rec.PositionID,
				Actor:      common.HexToAddress(rec.Actor),
				Amount:     amount,
				At:         rec.At,
				Block:      rec.Block,
			})
			return len(ops) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

// SaveToken implements registry.TokenStore.
func (s *Store) SaveToken(ctx context.Context, tok registry.Token) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key(prefixToken, u64(tok.ID)), tokenRecord{Owner: tok.Owner.Hex(), Burned: tok.Burned})
	})
}

// LoadTokens implements registry.TokenStore.
func (s *Store) LoadTokens(ctx context.Context) ([]registry.Token, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var out []registry.Token
	err = db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixToken, false, func(k, v []byte) (bool, error) {
			var rec tokenRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return false, err
			}
			out = append(out, registry.Token{
				ID:     binary.BigEndian.Uint64(k),
				Owner:  common.HexToAddress(rec.Owner),
				Burned: rec.Burned,
			})
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	return out, nil
}

// SaveAccounts implements deposit.AccountStore.
func (s *Store) SaveAccounts(ctx context.Context, accounts []deposit.Account) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		for _, a := range accounts {
			rec := accountRecord{Balance: storage.EncodeInt(a.Balance), Allowance: storage.EncodeInt(a.Allowance)}
			if err := setJSON(txn, key(prefixAccount, a.Owner.Bytes()), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAccounts implements deposit.AccountStore.
func (s *Store) LoadAccounts(ctx context.Context) ([]deposit.Account, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var out []deposit.Account
	err = db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixAccount, false, func(k, v []byte) (bool, error) {
			var rec accountRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return false, err
			}
			bal, err := storage.DecodeInt(rec.Balance)
			if err != nil {
				return false, err
			}
			allow, err := storage.DecodeInt(rec.Allowance)
			if err != nil {
				return false, err
			}
			out = append(out, deposit.Account{Owner: common.BytesToAddress(k), Balance: bal, Allowance: allow})
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return out, nil
}

var _ storage.Backend = (*Store)(nil)
