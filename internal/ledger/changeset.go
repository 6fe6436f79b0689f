package ledger

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind names the operation that produced a changeset.
type Kind string

const (
	KindCreate     Kind = "create"
	KindIncrease   Kind = "increase"
	KindDepositFor Kind = "deposit_for"
	KindExtend     Kind = "extend"
	KindWithdraw   Kind = "withdraw"
	KindCheckpoint Kind = "checkpoint"
	KindGenesis    Kind = "genesis"
)

// PositionUpdate carries the new lock and history entry for one position.
type PositionUpdate struct {
	ID    uint64
	Lock  Lock
	Seq   uint64
	Point Point
}

// SlopeChange is the absolute scheduled slope delta at an epoch boundary.
type SlopeChange struct {
	Epoch int64
	Delta *big.Int
}

// Changeset is everything one operation appends to the ledger. It is built
// by the Plan* methods without touching the book and committed by Apply.
type Changeset struct {
	ID     uuid.UUID
	Kind   Kind
	Actor  common.Address
	Amount *big.Int
	At     int64
	Block  uint64

	GlobalStart  uint64
	Global       []Point
	Position     *PositionUpdate
	SlopeChanges []SlopeChange
}

// Empty reports whether applying the changeset would change nothing.
func (cs Changeset) Empty() bool {
	return len(cs.Global) == 0 && cs.Position == nil && len(cs.SlopeChanges) == 0
}

// Operation is the journal entry persisted for a changeset.
type Operation struct {
	ID         uuid.UUID
	Kind       Kind
	PositionID uint64
	Actor      common.Address
	Amount     *big.Int
	At         int64
	Block      uint64
}

// Operation derives the journal entry for the changeset.
func (cs Changeset) Operation() Operation {
	op := Operation{
		ID:     cs.ID,
		Kind:   cs.Kind,
		Actor:  cs.Actor,
		Amount: cloneInt(cs.Amount),
		At:     cs.At,
		Block:  cs.Block,
	}
	if cs.Position != nil {
		op.PositionID = cs.Position.ID
	}
	return op
}

func sortedSlopeChanges(m map[int64]*big.Int) []SlopeChange {
	out := make([]SlopeChange, 0, len(m))
	for e, d := range m {
		out = append(out, SlopeChange{Epoch: e, Delta: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}
