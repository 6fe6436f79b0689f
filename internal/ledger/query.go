package ledger

import (
	"math/big"
	"sort"

	"vote-escrow/internal/epoch"
)

// lastAtOrBefore returns the index of the last point with TS <= t, or -1.
func lastAtOrBefore(points []Point, t int64) int {
	return sort.Search(len(points), func(i int) bool { return points[i].TS > t }) - 1
}

// lastAtOrBeforeBlock returns the index of the last point with Block <= block, or -1.
func lastAtOrBeforeBlock(points []Point, block uint64) int {
	return sort.Search(len(points), func(i int) bool { return points[i].Block > block }) - 1
}

// BalanceAt returns the weight of position id at t. Unknown positions and
// times before the first checkpoint weigh zero.
func (b *Book) BalanceAt(id uint64, t int64) *big.Int {
	pos, ok := b.positions[id]
	if !ok {
		return new(big.Int)
	}
	idx := lastAtOrBefore(pos.history, t)
	if idx < 0 {
		return new(big.Int)
	}
	return pos.history[idx].ValueAt(t)
}

// SupplyAt returns the aggregate weight at t. The projection walks the slope
// schedule from the nearest recorded point without writing, so the answer
// does not depend on whether catch-up has been materialised.
func (b *Book) SupplyAt(t int64) *big.Int {
	idx := lastAtOrBefore(b.global, t)
	if idx < 0 {
		return new(big.Int)
	}
	return b.supplyFrom(b.global[idx], t)
}

func (b *Book) supplyFrom(p Point, t int64) *big.Int {
	last := p.Clone()
	for ti := epoch.Next(last.TS); ; ti += epoch.Week {
		if ti >= t {
			project(&last, t)
			break
		}
		project(&last, ti)
		last.Slope.Add(last.Slope, b.scheduled(ti))
		clamp(&last)
	}
	if last.Bias.Sign() < 0 {
		return new(big.Int)
	}
	return last.Bias
}

// blockTime estimates the timestamp of block using the global history,
// extrapolating from the latest point to the current (now, head) pair.
func (b *Book) blockTime(block uint64, now int64, head uint64) (Point, int64, bool) {
	idx := lastAtOrBeforeBlock(b.global, block)
	if idx < 0 {
		return Point{}, 0, false
	}
	p0 := b.global[idx]
	var dBlock uint64
	var dt int64
	if idx < len(b.global)-1 {
		p1 := b.global[idx+1]
		dBlock = p1.Block - p0.Block
		dt = p1.TS - p0.TS
	} else {
		if head > p0.Block {
			dBlock = head - p0.Block
		}
		dt = now - p0.TS
	}
	ts := p0.TS
	if dBlock != 0 {
		offset := new(big.Int).Mul(big.NewInt(dt), new(big.Int).SetUint64(block-p0.Block))
		offset.Quo(offset, new(big.Int).SetUint64(dBlock))
		ts += offset.Int64()
	}
	return p0, ts, true
}

// BalanceAtBlock returns the weight of position id at a block height. The
// caller must ensure block does not exceed head.
func (b *Book) BalanceAtBlock(id uint64, block uint64, now int64, head uint64) *big.Int {
	pos, ok := b.positions[id]
	if !ok {
		return new(big.Int)
	}
	idx := lastAtOrBeforeBlock(pos.history, block)
	if idx < 0 {
		return new(big.Int)
	}
	_, ts, ok := b.blockTime(block, now, head)
	if !ok {
		return new(big.Int)
	}
	return pos.history[idx].ValueAt(ts)
}

// SupplyAtBlock returns the aggregate weight at a block height.
func (b *Book) SupplyAtBlock(block uint64, now int64, head uint64) *big.Int {
	p0, ts, ok := b.blockTime(block, now, head)
	if !ok {
		return new(big.Int)
	}
	return b.supplyFrom(p0, ts)
}
