package ledger

import (
	"math/big"

	"vote-escrow/internal/epoch"
)

// blockMultiplier scales the block-per-second slope used when interpolating
// heights of intermediate epoch points.
var blockMultiplier = big.NewInt(1_000_000_000_000_000_000)

// Point is one segment of a decay line. Weight at t >= TS is
// max(0, Bias + Slope*(t-TS)); Slope is never positive.
type Point struct {
	Bias  *big.Int
	Slope *big.Int
	TS    int64
	Block uint64
}

// ZeroPoint returns a point with zero bias and slope at the given moment.
func ZeroPoint(ts int64, block uint64) Point {
	return Point{Bias: new(big.Int), Slope: new(big.Int), TS: ts, Block: block}
}

// Clone returns a deep copy so callers can mutate the result freely.
func (p Point) Clone() Point {
	return Point{
		Bias:  cloneInt(p.Bias),
		Slope: cloneInt(p.Slope),
		TS:    p.TS,
		Block: p.Block,
	}
}

// ValueAt projects the segment to t and floors the result at zero.
func (p Point) ValueAt(t int64) *big.Int {
	v := new(big.Int).Mul(cloneInt(p.Slope), big.NewInt(t-p.TS))
	v.Add(v, cloneInt(p.Bias))
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

// Lock is the deposit held by one position.
type Lock struct {
	Amount *big.Int
	End    int64
}

// Clone returns a deep copy of the lock.
func (l Lock) Clone() Lock {
	return Lock{Amount: cloneInt(l.Amount), End: l.End}
}

// IsZero reports whether nothing is locked.
func (l Lock) IsZero() bool {
	return l.Amount == nil || l.Amount.Sign() == 0
}

// Active reports whether the lock still carries weight at now.
func (l Lock) Active(now int64) bool {
	return !l.IsZero() && l.End > now
}

// Rate is the per-second decay of a lock: floor(amount / MaxLock).
func Rate(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(amount, big.NewInt(epoch.MaxLock))
}

// LockPoint computes the decay point of l as seen at now. Expired or empty
// locks yield a zero point.
func LockPoint(l Lock, now int64, block uint64) Point {
	p := ZeroPoint(now, block)
	if !l.Active(now) {
		return p
	}
	rate := Rate(l.Amount)
	p.Slope.Neg(rate)
	p.Bias.Mul(rate, big.NewInt(l.End-now))
	return p
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func clamp(p *Point) {
	if p.Bias.Sign() < 0 {
		p.Bias.SetInt64(0)
	}
	if p.Slope.Sign() > 0 {
		p.Slope.SetInt64(0)
	}
}

// project moves p forward to t along its current slope.
func project(p *Point, t int64) {
	delta := new(big.Int).Mul(p.Slope, big.NewInt(t-p.TS))
	p.Bias.Add(p.Bias, delta)
	p.TS = t
}
