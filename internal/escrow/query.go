package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"vote-escrow/internal/ledger"
	"vote-escrow/internal/metrics"
)

// Position is a read view of one position.
type Position struct {
	ID     uint64
	Owner  common.Address
	Amount *big.Int
	End    int64
	Epoch  uint64
}

// BalanceOfPosition returns the weight of id at t. Unknown ids weigh zero;
// times after now are projected along the current decay line.
func (e *Escrow) BalanceOfPosition(id uint64, t int64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BalanceAt(id, t)
}

// CurrentBalance returns the weight of id now.
func (e *Escrow) CurrentBalance(ctx context.Context, id uint64) (*big.Int, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	return e.BalanceOfPosition(id, now.Time), nil
}

// TotalWeight returns the aggregate weight at t, materialising any elapsed
// epoch boundaries first.
func (e *Escrow) TotalWeight(ctx context.Context, t int64) (*big.Int, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	if t > now.Time {
		return nil, ErrFutureQuery
	}
	if _, err := e.catchUp(ctx, now); err != nil {
		return nil, fmt.Errorf("advance global history: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.SupplyAt(t), nil
}

// CurrentTotal returns the aggregate weight now.
func (e *Escrow) CurrentTotal(ctx context.Context) (*big.Int, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	total, err := e.TotalWeight(ctx, now.Time)
	if err != nil {
		return nil, err
	}
	metrics.SetTotalWeight(total, e.decimals)
	return total, nil
}

// BalanceOfPositionAtBlock returns the weight of id at a past block height.
func (e *Escrow) BalanceOfPositionAtBlock(ctx context.Context, id uint64, block uint64) (*big.Int, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	if block > now.Block {
		return nil, ErrFutureQuery
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BalanceAtBlock(id, block, now.Time, now.Block), nil
}

// TotalWeightAtBlock returns the aggregate weight at a past block height.
func (e *Escrow) TotalWeightAtBlock(ctx context.Context, block uint64) (*big.Int, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	if block > now.Block {
		return nil, ErrFutureQuery
	}
	if _, err := e.catchUp(ctx, now); err != nil {
		return nil, fmt.Errorf("advance global history: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.SupplyAtBlock(block, now.Time, now.Block), nil
}

// Locked returns the recorded lock of id.
func (e *Escrow) Locked(id uint64) (ledger.Lock, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Lock(id)
}

// PositionHistory returns the decay points recorded for id.
func (e *Escrow) PositionHistory(id uint64) []ledger.Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.PositionHistory(id)
}

// PositionEpoch is the number of points recorded for id.
func (e *Escrow) PositionEpoch(id uint64) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.PositionEpoch(id)
}

// Now reports the escrow clock in unix seconds.
func (e *Escrow) Now(ctx context.Context) (int64, error) {
	m, err := e.now(ctx)
	if err != nil {
		return 0, err
	}
	return m.Time, nil
}

// Epoch is the sequence number of the latest global point.
func (e *Escrow) Epoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Epoch()
}

// GlobalPoint returns the global point at seq.
func (e *Escrow) GlobalPoint(seq uint64) (ledger.Point, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.GlobalPoint(seq)
}

// Genesis returns the first global point.
func (e *Escrow) Genesis() ledger.Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Genesis()
}

// Position returns the view of id with its current owner. Withdrawn
// positions report the zero owner.
func (e *Escrow) Position(ctx context.Context, id uint64) (Position, bool, error) {
	e.mu.RLock()
	lock, ok := e.book.Lock(id)
	seq := e.book.PositionEpoch(id)
	e.mu.RUnlock()
	if !ok {
		return Position{}, false, nil
	}

	owner, err := e.registry.OwnerOf(ctx, id)
	if err != nil {
		return Position{}, false, fmt.Errorf("lookup owner: %w", err)
	}
	return Position{ID: id, Owner: owner, Amount: lock.Amount, End: lock.End, Epoch: seq}, true, nil
}

// Positions lists every recorded position ordered by id.
func (e *Escrow) Positions(ctx context.Context) ([]Position, error) {
	e.mu.RLock()
	ids := e.book.PositionIDs()
	e.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		pos, ok, err := e.Position(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

// Withdrawable lists positions whose lock has expired but still holds a deposit.
func (e *Escrow) Withdrawable(ctx context.Context) ([]Position, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.Positions(ctx)
	if err != nil {
		return nil, err
	}
	var out []Position
	for _, pos := range all {
		if pos.Amount.Sign() > 0 && pos.End <= now.Time {
			out = append(out, pos)
		}
	}
	return out, nil
}
