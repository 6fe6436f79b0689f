// Package storage defines the persistence contract shared by the ledger
// backends and the value codecs they use.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"vote-escrow/internal/deposit"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/registry"
)

var (
	// ErrNotConfigured indicates the storage handle was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// OperationStore exposes the operations journal. A non-positive limit lists
// every entry.
type OperationStore interface {
	ListOperations(ctx context.Context, limit int) ([]ledger.Operation, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything a vote-escrow process persists.
type Backend interface {
	escrow.Store
	registry.TokenStore
	deposit.AccountStore
	OperationStore
	Close() error
}

// EncodeInt renders an integer amount as a plain decimal string.
func EncodeInt(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, 0).String()
}

// DecodeInt parses an amount written by EncodeInt.
func DecodeInt(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("parse amount %q: not an integer", s)
	}
	return d.BigInt(), nil
}

// PointRecord is the flat persisted form of a ledger point.
type PointRecord struct {
	Bias  string `json:"bias"`
	Slope string `json:"slope"`
	TS    int64  `json:"ts"`
	Block uint64 `json:"block"`
}

// EncodePoint flattens p for storage.
func EncodePoint(p ledger.Point) PointRecord {
	return PointRecord{Bias: EncodeInt(p.Bias), Slope: EncodeInt(p.Slope), TS: p.TS, Block: p.Block}
}

// Decode rebuilds the ledger point.
func (r PointRecord) Decode() (ledger.Point, error) {
	bias, err := DecodeInt(r.Bias)
	if err != nil {
		return ledger.Point{}, err
	}
	slope, err := DecodeInt(r.Slope)
	if err != nil {
		return ledger.Point{}, err
	}
	return ledger.Point{Bias: bias, Slope: slope, TS: r.TS, Block: r.Block}, nil
}

// SnapshotBuilder collects rows read back from a backend into a ledger snapshot.
type SnapshotBuilder struct {
	positions map[uint64]*ledger.PositionRecord
	order     []uint64
	snap      ledger.Snapshot
}

// NewSnapshotBuilder returns an empty builder.
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{positions: make(map[uint64]*ledger.PositionRecord)}
}

func (b *SnapshotBuilder) position(id uint64) *ledger.PositionRecord {
	rec, ok := b.positions[id]
	if !ok {
		rec = &ledger.PositionRecord{ID: id, Lock: ledger.Lock{Amount: new(big.Int)}}
		b.positions[id] = rec
		b.order = append(b.order, id)
	}
	return rec
}

// AddGlobal appends the next global point; rows must arrive in sequence order.
func (b *SnapshotBuilder) AddGlobal(seq uint64, p ledger.Point) error {
	if seq != uint64(len(b.snap.Global)) {
		return fmt.Errorf("global point %d missing, got %d", len(b.snap.Global), seq)
	}
	b.snap.Global = append(b.snap.Global, p)
	return nil
}

// AddLock records the current lock of a position.
func (b *SnapshotBuilder) AddLock(id uint64, lock ledger.Lock) {
	b.position(id).Lock = lock
}

// AddPositionPoint appends the next point of a position; rows must arrive in
// (id, seq) order.
func (b *SnapshotBuilder) AddPositionPoint(id, seq uint64, p ledger.Point) error {
	rec := b.position(id)
	if seq != uint64(len(rec.History)) {
		return fmt.Errorf("position %d point %d missing, got %d", id, len(rec.History), seq)
	}
	rec.History = append(rec.History, p)
	return nil
}

// AddSlopeChange records a scheduled slope delta.
func (b *SnapshotBuilder) AddSlopeChange(epoch int64, delta *big.Int) {
	b.snap.SlopeChanges = append(b.snap.SlopeChanges, ledger.SlopeChange{Epoch: epoch, Delta: delta})
}

// Snapshot returns the collected ledger state.
func (b *SnapshotBuilder) Snapshot() ledger.Snapshot {
	out := b.snap
	out.Positions = make([]ledger.PositionRecord, 0, len(b.order))
	for _, id := range b.order {
		out.Positions = append(out.Positions, *b.positions[id])
	}
	return out
}
