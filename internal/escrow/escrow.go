// Package escrow implements the vote-escrow lock lifecycle and the balance
// queries on top of the checkpoint ledger.
//
// All mutations are serialised behind a single writer lock. Each one
// validates its preconditions, plans a ledger changeset, runs the deposit and
// registry side effects, persists the changeset and only then applies it to
// the in-memory book. A failure after a side effect ran compensates that
// effect, so the ledger never records an operation that did not complete.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"vote-escrow/internal/clock"
	"vote-escrow/internal/deposit"
	"vote-escrow/internal/epoch"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/metrics"
	"vote-escrow/internal/registry"
)

// Store persists ledger changesets.
type Store interface {
	LoadLedger(ctx context.Context) (ledger.Snapshot, error)
	CommitChangeset(ctx context.Context, cs ledger.Changeset) error
}

// Options wires the collaborators of an Escrow. Store may be nil for a purely
// in-memory ledger.
type Options struct {
	Clock    clock.Clock
	Deposit  deposit.Asset
	Registry registry.Registry
	Store    Store
	Logger   zerolog.Logger
	// Decimals of the deposit asset, used only for reporting.
	Decimals int32
}

// Escrow is the lock lifecycle manager and query engine.
type Escrow struct {
	mu       deadlock.RWMutex
	book     *ledger.Book
	clock    clock.Clock
	deposit  deposit.Asset
	registry registry.Registry
	store    Store
	logger   zerolog.Logger
	decimals int32
}

// New wraps an existing book.
func New(book *ledger.Book, opts Options) (*Escrow, error) {
	if book == nil {
		return nil, errors.New("escrow: ledger book is required")
	}
	if opts.Clock == nil {
		return nil, errors.New("escrow: clock is required")
	}
	if opts.Deposit == nil {
		return nil, errors.New("escrow: deposit asset is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("escrow: registry is required")
	}
	decimals := opts.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	e := &Escrow{
		book:     book,
		clock:    opts.Clock,
		deposit:  opts.Deposit,
		registry: opts.Registry,
		store:    opts.Store,
		logger:   opts.Logger.With().Str("component", "escrow").Logger(),
		decimals: decimals,
	}
	metrics.SetGlobalEpoch(book.Epoch())
	return e, nil
}

// Open loads the ledger from opts.Store. An empty store is initialised with a
// genesis point at the current moment.
func Open(ctx context.Context, opts Options) (*Escrow, error) {
	if opts.Clock == nil {
		return nil, errors.New("escrow: clock is required")
	}
	if opts.Store == nil {
		now, err := opts.Clock.Now(ctx)
		if err != nil {
			return nil, fmt.Errorf("read clock: %w", err)
		}
		return New(ledger.NewBook(now.Time, now.Block), opts)
	}

	snap, err := opts.Store.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if len(snap.Global) > 0 {
		book, err := ledger.Restore(snap)
		if err != nil {
			return nil, fmt.Errorf("restore ledger: %w", err)
		}
		opts.Logger.Info().
			Uint64("epoch", book.Epoch()).
			Int("positions", len(snap.Positions)).
			Msg("ledger restored")
		return New(book, opts)
	}

	now, err := opts.Clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("read clock: %w", err)
	}
	book := ledger.NewBook(now.Time, now.Block)
	if err := opts.Store.CommitChangeset(ctx, ledger.GenesisChangeset(book)); err != nil {
		return nil, fmt.Errorf("persist genesis: %w", err)
	}
	opts.Logger.Info().Int64("genesis", now.Time).Msg("ledger initialised")
	return New(book, opts)
}

// Seconds converts a caller-supplied lock length. Lengths of MaxLock plus a
// week or more exceed the maximum from any start time and are rejected
// before the conversion can overflow.
func Seconds(secs int64) (time.Duration, error) {
	if secs <= 0 {
		return 0, ErrInvalidDuration
	}
	if secs >= epoch.MaxLock+epoch.Week {
		return 0, ErrLockTooLong
	}
	return time.Duration(secs) * time.Second, nil
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// unlockTime validates a requested duration and returns the quantized unlock time.
func unlockTime(now int64, duration time.Duration) (int64, error) {
	secs := seconds(duration)
	if secs <= 0 {
		return 0, ErrInvalidDuration
	}
	unlock := epoch.Quantize(now + secs)
	if unlock <= now {
		return 0, ErrLockNotInFuture
	}
	if unlock > now+epoch.MaxLock {
		return 0, ErrLockTooLong
	}
	return unlock, nil
}

func (e *Escrow) now(ctx context.Context) (clock.Moment, error) {
	m, err := e.clock.Now(ctx)
	if err != nil {
		return clock.Moment{}, fmt.Errorf("read clock: %w", err)
	}
	return m, nil
}

// owned loads the recorded lock of id and checks that caller owns it. A
// position with nothing locked reports ErrNoActiveLock before ownership is
// looked up, since its token no longer exists.
func (e *Escrow) owned(ctx context.Context, caller common.Address, id uint64) (ledger.Lock, common.Address, error) {
	lock, ok := e.book.Lock(id)
	if !ok || lock.IsZero() {
		return lock, common.Address{}, ErrNoActiveLock
	}
	owner, err := e.registry.OwnerOf(ctx, id)
	if err != nil {
		return lock, common.Address{}, fmt.Errorf("lookup owner: %w", err)
	}
	if owner != caller {
		return lock, owner, ErrNotOwner
	}
	return lock, owner, nil
}

// reclaim pulls a payout back into custody. Assets without a custody-side
// path fall back to spending the holder's allowance.
func (e *Escrow) reclaim(ctx context.Context, from common.Address, amount *big.Int) error {
	if r, ok := e.deposit.(deposit.Reclaimer); ok {
		return r.Reclaim(ctx, from, amount)
	}
	return e.deposit.TransferIn(ctx, from, amount)
}

// restore revives a burned position token for owner.
func (e *Escrow) restore(ctx context.Context, id uint64, owner common.Address) error {
	r, ok := e.registry.(registry.Restorer)
	if !ok {
		return fmt.Errorf("registry cannot restore position %d", id)
	}
	return r.Restore(ctx, id, owner)
}

// commit persists cs and applies it to the book.
func (e *Escrow) commit(ctx context.Context, cs ledger.Changeset) error {
	if err := e.book.Validate(cs); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.CommitChangeset(ctx, cs); err != nil {
			return fmt.Errorf("persist changeset: %w", err)
		}
	}
	if err := e.book.Apply(cs); err != nil {
		return fmt.Errorf("apply changeset: %w", err)
	}

	catchUp := len(cs.Global)
	if cs.Position != nil {
		catchUp--
	}
	metrics.RecordCatchUp(catchUp)
	metrics.SetGlobalEpoch(e.book.Epoch())
	return nil
}

func (e *Escrow) observe(kind ledger.Kind, started time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case IsValidation(err):
		result = "rejected"
	default:
		result = "failed"
	}
	metrics.RecordOperation(string(kind), result, time.Since(started).Seconds())
}

// CreateLock locks amount from caller for duration and mints a position to caller.
func (e *Escrow) CreateLock(ctx context.Context, caller common.Address, amount *big.Int, duration time.Duration) (uint64, error) {
	return e.CreateLockFor(ctx, caller, caller, amount, duration)
}

// CreateLockFor locks amount paid by caller and mints the position to owner.
func (e *Escrow) CreateLockFor(ctx context.Context, caller, owner common.Address, amount *big.Int, duration time.Duration) (id uint64, err error) {
	started := time.Now()
	defer func() { e.observe(ledger.KindCreate, started, err) }()

	if !positive(amount) {
		return 0, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now, err := e.now(ctx)
	if err != nil {
		return 0, err
	}
	unlock, err := unlockTime(now.Time, duration)
	if err != nil {
		return 0, err
	}

	amount = new(big.Int).Set(amount)
	cs, err := e.book.PlanCheckpoint(ledger.KindCreate, 0, ledger.Lock{Amount: amount, End: unlock}, now.Time, now.Block)
	if err != nil {
		return 0, fmt.Errorf("plan lock: %w", err)
	}
	cs.Actor = caller
	cs.Amount = amount

	undo := rollback{logger: e.logger.With().Str("op_id", cs.ID.String()).Logger()}
	if err := e.deposit.TransferIn(ctx, caller, amount); err != nil {
		return 0, fmt.Errorf("transfer deposit in: %w", err)
	}
	undo.push("refund deposit", func(ctx context.Context) error {
		return e.deposit.TransferOut(ctx, caller, amount)
	})

	id, err = e.registry.Mint(ctx, owner)
	if err != nil {
		undo.run(ctx)
		return 0, fmt.Errorf("mint position: %w", err)
	}
	undo.push("burn position", func(ctx context.Context) error {
		return e.registry.Burn(ctx, id)
	})
	if _, exists := e.book.Lock(id); exists {
		undo.run(ctx)
		return 0, fmt.Errorf("mint position: id %d already recorded", id)
	}

	cs.Position.ID = id
	if err := e.commit(ctx, cs); err != nil {
		undo.run(ctx)
		return 0, err
	}

	e.logger.Info().
		Str("op_id", cs.ID.String()).
		Str("kind", string(cs.Kind)).
		Uint64("position_id", id).
		Str("owner", owner.Hex()).
		Str("amount", amount.String()).
		Int64("unlock", unlock).
		Msg("lock created")
	return id, nil
}

// IncreaseAmount adds extra to an active position owned by caller.
func (e *Escrow) IncreaseAmount(ctx context.Context, caller common.Address, id uint64, extra *big.Int) (err error) {
	started := time.Now()
	defer func() { e.observe(ledger.KindIncrease, started, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	lock, _, err := e.owned(ctx, caller, id)
	if err != nil {
		return err
	}
	return e.topUp(ctx, ledger.KindIncrease, caller, id, lock, extra)
}

// DepositFor adds extra paid by caller to any active position.
func (e *Escrow) DepositFor(ctx context.Context, caller common.Address, id uint64, extra *big.Int) (err error) {
	started := time.Now()
	defer func() { e.observe(ledger.KindDepositFor, started, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.book.Lock(id)
	if !ok || lock.IsZero() {
		return ErrNoActiveLock
	}
	return e.topUp(ctx, ledger.KindDepositFor, caller, id, lock, extra)
}

func (e *Escrow) topUp(ctx context.Context, kind ledger.Kind, caller common.Address, id uint64, lock ledger.Lock, extra *big.Int) error {
	if !positive(extra) {
		return ErrInvalidAmount
	}
	now, err := e.now(ctx)
	if err != nil {
		return err
	}
	if !lock.Active(now.Time) {
		return ErrNoActiveLock
	}

	extra = new(big.Int).Set(extra)
	next := ledger.Lock{Amount: new(big.Int).Add(lock.Amount, extra), End: lock.End}
	cs, err := e.book.PlanCheckpoint(kind, id, next, now.Time, now.Block)
	if err != nil {
		return fmt.Errorf("plan %s: %w", kind, err)
	}
	cs.Actor = caller
	cs.Amount = extra

	undo := rollback{logger: e.logger.With().Str("op_id", cs.ID.String()).Logger()}
	if err := e.deposit.TransferIn(ctx, caller, extra); err != nil {
		return fmt.Errorf("transfer deposit in: %w", err)
	}
	undo.push("refund deposit", func(ctx context.Context) error {
		return e.deposit.TransferOut(ctx, caller, extra)
	})

	if err := e.commit(ctx, cs); err != nil {
		undo.run(ctx)
		return err
	}

	e.logger.Info().
		Str("op_id", cs.ID.String()).
		Str("kind", string(kind)).
		Uint64("position_id", id).
		Str("amount", next.Amount.String()).
		Msg("lock increased")
	return nil
}

// ExtendLock moves the unlock time of an active position to now + duration.
func (e *Escrow) ExtendLock(ctx context.Context, caller common.Address, id uint64, duration time.Duration) (err error) {
	started := time.Now()
	defer func() { e.observe(ledger.KindExtend, started, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	lock, _, err := e.owned(ctx, caller, id)
	if err != nil {
		return err
	}
	if seconds(duration) <= 0 {
		return ErrInvalidDuration
	}
	now, err := e.now(ctx)
	if err != nil {
		return err
	}
	if !lock.Active(now.Time) {
		return ErrNoActiveLock
	}
	unlock := epoch.Quantize(now.Time + seconds(duration))
	if unlock <= lock.End {
		return ErrDurationNotIncreased
	}
	if unlock > now.Time+epoch.MaxLock {
		return ErrLockTooLong
	}

	cs, err := e.book.PlanCheckpoint(ledger.KindExtend, id, ledger.Lock{Amount: lock.Amount, End: unlock}, now.Time, now.Block)
	if err != nil {
		return fmt.Errorf("plan extend: %w", err)
	}
	cs.Actor = caller
	if err := e.commit(ctx, cs); err != nil {
		return err
	}

	e.logger.Info().
		Str("op_id", cs.ID.String()).
		Str("kind", string(cs.Kind)).
		Uint64("position_id", id).
		Int64("unlock", unlock).
		Msg("lock extended")
	return nil
}

// Withdraw returns the full locked amount of an expired position to its
// owner and burns the position token.
func (e *Escrow) Withdraw(ctx context.Context, caller common.Address, id uint64) (amount *big.Int, err error) {
	started := time.Now()
	defer func() { e.observe(ledger.KindWithdraw, started, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	lock, owner, err := e.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	if now.Time < lock.End {
		return nil, ErrLockNotExpired
	}

	amount = lock.Amount
	cs, err := e.book.PlanCheckpoint(ledger.KindWithdraw, id, ledger.Lock{Amount: new(big.Int)}, now.Time, now.Block)
	if err != nil {
		return nil, fmt.Errorf("plan withdraw: %w", err)
	}
	cs.Actor = caller
	cs.Amount = amount

	opLogger := e.logger.With().Str("op_id", cs.ID.String()).Logger()
	undo := rollback{logger: opLogger}
	if err := e.deposit.TransferOut(ctx, owner, amount); err != nil {
		return nil, fmt.Errorf("transfer deposit out: %w", err)
	}
	undo.push("reclaim deposit", func(ctx context.Context) error {
		return e.reclaim(ctx, owner, amount)
	})

	if err := e.registry.Burn(ctx, id); err != nil {
		undo.run(ctx)
		return nil, fmt.Errorf("burn position: %w", err)
	}
	undo.push("restore position", func(ctx context.Context) error {
		return e.restore(ctx, id, owner)
	})

	if err := e.commit(ctx, cs); err != nil {
		opLogger.Error().Err(err).Uint64("position_id", id).Msg("withdrawal not recorded")
		undo.run(ctx)
		return nil, err
	}

	opLogger.Info().
		Str("kind", string(cs.Kind)).
		Uint64("position_id", id).
		Str("amount", amount.String()).
		Msg("lock withdrawn")
	return amount, nil
}

// Checkpoint materialises every elapsed epoch boundary in the global history
// and returns how many points were written.
func (e *Escrow) Checkpoint(ctx context.Context) (n int, err error) {
	started := time.Now()
	defer func() { e.observe(ledger.KindCheckpoint, started, err) }()

	now, err := e.now(ctx)
	if err != nil {
		return 0, err
	}
	return e.catchUp(ctx, now)
}

// catchUp persists missing epoch boundaries up to now.
func (e *Escrow) catchUp(ctx context.Context, now clock.Moment) (int, error) {
	e.mu.RLock()
	due := e.book.NeedsAdvance(now.Time)
	e.mu.RUnlock()
	if !due {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.book.PlanAdvance(now.Time, now.Block)
	if cs.Empty() {
		return 0, nil
	}
	if err := e.commit(ctx, cs); err != nil {
		return 0, err
	}
	e.logger.Debug().
		Str("op_id", cs.ID.String()).
		Int("points", len(cs.Global)).
		Uint64("epoch", e.book.Epoch()).
		Msg("global history advanced")
	return len(cs.Global), nil
}
