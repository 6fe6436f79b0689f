// Package ledger holds the checkpoint histories behind the vote-escrow.
//
// A Book keeps one append-only history of decay points per position, a
// global history describing the aggregate weight, and the schedule of slope
// changes that take effect when locks expire. Mutations are split into a
// planning step that returns a Changeset and an Apply step, so callers can
// persist and run side effects in between without leaving the book half
// written. A Book is not safe for concurrent use.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"vote-escrow/internal/epoch"
)

var (
	// ErrClockSkew is returned when an operation is planned before the last recorded point.
	ErrClockSkew = errors.New("ledger: time is before last checkpoint")
	// ErrStaleChangeset is returned by Apply when the book moved since the changeset was planned.
	ErrStaleChangeset = errors.New("ledger: stale changeset")
	// ErrUnknownPosition is returned when a changeset targets position id 0.
	ErrUnknownPosition = errors.New("ledger: position id not assigned")
)

type position struct {
	lock    Lock
	history []Point
}

// Book is the in-memory checkpoint ledger.
type Book struct {
	positions    map[uint64]*position
	global       []Point
	slopeChanges map[int64]*big.Int
}

// NewBook creates a ledger whose global history starts with a zero point at
// the genesis moment.
func NewBook(genesisTS int64, genesisBlock uint64) *Book {
	return &Book{
		positions:    make(map[uint64]*position),
		global:       []Point{ZeroPoint(genesisTS, genesisBlock)},
		slopeChanges: make(map[int64]*big.Int),
	}
}

// PositionRecord is the persisted form of one position.
type PositionRecord struct {
	ID      uint64
	Lock    Lock
	History []Point
}

// Snapshot is the complete persisted state of a Book.
type Snapshot struct {
	Positions    []PositionRecord
	Global       []Point
	SlopeChanges []SlopeChange
}

// Restore rebuilds a Book from a snapshot.
func Restore(s Snapshot) (*Book, error) {
	if len(s.Global) == 0 {
		return nil, errors.New("ledger: snapshot has no genesis point")
	}
	b := &Book{
		positions:    make(map[uint64]*position, len(s.Positions)),
		global:       make([]Point, 0, len(s.Global)),
		slopeChanges: make(map[int64]*big.Int, len(s.SlopeChanges)),
	}
	for i, p := range s.Global {
		if i > 0 && p.TS < s.Global[i-1].TS {
			return nil, fmt.Errorf("ledger: global point %d out of order", i)
		}
		b.global = append(b.global, p.Clone())
	}
	for _, rec := range s.Positions {
		if rec.ID == 0 {
			return nil, ErrUnknownPosition
		}
		pos := &position{lock: rec.Lock.Clone(), history: make([]Point, 0, len(rec.History))}
		for _, p := range rec.History {
			pos.history = append(pos.history, p.Clone())
		}
		b.positions[rec.ID] = pos
	}
	for _, sc := range s.SlopeChanges {
		b.slopeChanges[sc.Epoch] = cloneInt(sc.Delta)
	}
	return b, nil
}

// Snapshot exports the full state of the book.
func (b *Book) Snapshot() Snapshot {
	s := Snapshot{
		Positions:    make([]PositionRecord, 0, len(b.positions)),
		Global:       make([]Point, 0, len(b.global)),
		SlopeChanges: sortedSlopeChanges(b.cloneSchedule()),
	}
	for _, p := range b.global {
		s.Global = append(s.Global, p.Clone())
	}
	for id, pos := range b.positions {
		rec := PositionRecord{ID: id, Lock: pos.lock.Clone()}
		for _, p := range pos.history {
			rec.History = append(rec.History, p.Clone())
		}
		s.Positions = append(s.Positions, rec)
	}
	return s
}

func (b *Book) cloneSchedule() map[int64]*big.Int {
	out := make(map[int64]*big.Int, len(b.slopeChanges))
	for e, d := range b.slopeChanges {
		out[e] = cloneInt(d)
	}
	return out
}

func (b *Book) scheduled(at int64) *big.Int {
	if d, ok := b.slopeChanges[at]; ok {
		return cloneInt(d)
	}
	return new(big.Int)
}

// advance materialises one global point per epoch boundary in (last.TS, now].
// It returns the projected tail point and the boundary points in order.
func (b *Book) advance(now int64, block uint64) (Point, []Point) {
	last := b.global[len(b.global)-1].Clone()
	if now <= last.TS {
		return last, nil
	}

	initial := last.Clone()
	blockSlope := new(big.Int)
	if block > initial.Block {
		blockSlope.SetUint64(block - initial.Block)
		blockSlope.Mul(blockSlope, blockMultiplier)
		blockSlope.Quo(blockSlope, big.NewInt(now-initial.TS))
	}

	var points []Point
	for t := epoch.Next(last.TS); t <= now; t += epoch.Week {
		project(&last, t)
		last.Slope.Add(last.Slope, b.scheduled(t))
		clamp(&last)
		if t == now {
			last.Block = block
		} else {
			last.Block = interpolateBlock(initial, blockSlope, t)
		}
		points = append(points, last.Clone())
	}
	return last, points
}

func interpolateBlock(initial Point, blockSlope *big.Int, t int64) uint64 {
	h := new(big.Int).Mul(blockSlope, big.NewInt(t-initial.TS))
	h.Quo(h, blockMultiplier)
	return initial.Block + h.Uint64()
}

// PlanAdvance returns the catch-up changeset for now. It is empty when the
// global history already covers every epoch boundary up to now.
func (b *Book) PlanAdvance(now int64, block uint64) Changeset {
	_, points := b.advance(now, block)
	return Changeset{
		ID:          uuid.New(),
		Kind:        KindCheckpoint,
		At:          now,
		Block:       block,
		GlobalStart: uint64(len(b.global)),
		Global:      points,
	}
}

// PlanCheckpoint plans the transition of position id from its recorded lock
// to next at now. A position that does not exist yet starts from the zero lock.
func (b *Book) PlanCheckpoint(kind Kind, id uint64, next Lock, now int64, block uint64) (Changeset, error) {
	if now < b.global[len(b.global)-1].TS {
		return Changeset{}, ErrClockSkew
	}

	prev := Lock{Amount: new(big.Int)}
	var seq uint64
	if pos, ok := b.positions[id]; ok {
		prev = pos.lock.Clone()
		seq = uint64(len(pos.history))
		if n := len(pos.history); n > 0 && now < pos.history[n-1].TS {
			return Changeset{}, ErrClockSkew
		}
	}

	uOld := LockPoint(prev, now, block)
	uNew := LockPoint(next, now, block)

	last, points := b.advance(now, block)
	project(&last, now)
	last.Block = block
	last.Slope.Add(last.Slope, new(big.Int).Sub(uNew.Slope, uOld.Slope))
	last.Bias.Add(last.Bias, new(big.Int).Sub(uNew.Bias, uOld.Bias))
	clamp(&last)
	points = append(points, last)

	// Scheduled deltas are the positive rates restored at each unlock epoch.
	changes := make(map[int64]*big.Int)
	oldDelta := b.scheduled(prev.End)
	if prev.End > now {
		oldDelta.Add(oldDelta, uOld.Slope)
		if next.End == prev.End {
			oldDelta.Sub(oldDelta, uNew.Slope)
		}
		changes[prev.End] = oldDelta
	}
	if next.End > now && next.End > prev.End {
		newDelta := b.scheduled(next.End)
		newDelta.Sub(newDelta, uNew.Slope)
		changes[next.End] = newDelta
	}

	return Changeset{
		ID:          uuid.New(),
		Kind:        kind,
		At:          now,
		Block:       block,
		GlobalStart: uint64(len(b.global)),
		Global:      points,
		Position: &PositionUpdate{
			ID:    id,
			Lock:  next.Clone(),
			Seq:   seq,
			Point: uNew,
		},
		SlopeChanges: sortedSlopeChanges(changes),
	}, nil
}

// GenesisChangeset describes the initial state of a fresh book so a store
// can persist it before any operation runs.
func GenesisChangeset(b *Book) Changeset {
	g := b.Genesis()
	return Changeset{
		ID:          uuid.New(),
		Kind:        KindGenesis,
		At:          g.TS,
		Block:       g.Block,
		GlobalStart: 0,
		Global:      []Point{g},
	}
}

// Validate reports whether cs can be applied to the book as it stands.
func (b *Book) Validate(cs Changeset) error {
	if cs.GlobalStart != uint64(len(b.global)) {
		return fmt.Errorf("%w: global seq %d, have %d", ErrStaleChangeset, cs.GlobalStart, len(b.global))
	}
	if u := cs.Position; u != nil {
		if u.ID == 0 {
			return ErrUnknownPosition
		}
		var have uint64
		if pos, ok := b.positions[u.ID]; ok {
			have = uint64(len(pos.history))
		}
		if u.Seq != have {
			return fmt.Errorf("%w: position %d seq %d, have %d", ErrStaleChangeset, u.ID, u.Seq, have)
		}
	}
	return nil
}

// Apply commits a planned changeset. It fails without side effects when the
// book has moved since planning.
func (b *Book) Apply(cs Changeset) error {
	if err := b.Validate(cs); err != nil {
		return err
	}

	for _, p := range cs.Global {
		b.global = append(b.global, p.Clone())
	}
	for _, sc := range cs.SlopeChanges {
		b.slopeChanges[sc.Epoch] = cloneInt(sc.Delta)
	}
	if u := cs.Position; u != nil {
		pos, ok := b.positions[u.ID]
		if !ok {
			pos = &position{}
			b.positions[u.ID] = pos
		}
		pos.lock = u.Lock.Clone()
		pos.history = append(pos.history, u.Point.Clone())
	}
	return nil
}

// Lock returns the recorded lock of a position.
func (b *Book) Lock(id uint64) (Lock, bool) {
	pos, ok := b.positions[id]
	if !ok {
		return Lock{Amount: new(big.Int)}, false
	}
	return pos.lock.Clone(), true
}

// PositionEpoch is the number of points recorded for a position.
func (b *Book) PositionEpoch(id uint64) uint64 {
	if pos, ok := b.positions[id]; ok {
		return uint64(len(pos.history))
	}
	return 0
}

// PositionHistory returns a copy of a position's decay points.
func (b *Book) PositionHistory(id uint64) []Point {
	pos, ok := b.positions[id]
	if !ok {
		return nil
	}
	out := make([]Point, 0, len(pos.history))
	for _, p := range pos.history {
		out = append(out, p.Clone())
	}
	return out
}

// PositionIDs lists every position ever recorded.
func (b *Book) PositionIDs() []uint64 {
	ids := make([]uint64, 0, len(b.positions))
	for id := range b.positions {
		ids = append(ids, id)
	}
	return ids
}

// Epoch is the sequence number of the latest global point.
func (b *Book) Epoch() uint64 {
	return uint64(len(b.global) - 1)
}

// GlobalPoint returns the global point at seq.
func (b *Book) GlobalPoint(seq uint64) (Point, bool) {
	if seq >= uint64(len(b.global)) {
		return Point{}, false
	}
	return b.global[seq].Clone(), true
}

// LastPoint returns the latest global point.
func (b *Book) LastPoint() Point {
	return b.global[len(b.global)-1].Clone()
}

// Genesis returns the first global point.
func (b *Book) Genesis() Point {
	return b.global[0].Clone()
}

// SlopeChange returns the scheduled slope delta at an epoch boundary.
func (b *Book) SlopeChange(at int64) *big.Int {
	return b.scheduled(at)
}

// NeedsAdvance reports whether an epoch boundary in (last.TS, now] is missing.
func (b *Book) NeedsAdvance(now int64) bool {
	return epoch.Next(b.global[len(b.global)-1].TS) <= now
}
