package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vote-escrow/internal/amount"
	"vote-escrow/internal/metadata"
)

// LockOptions configure lock creation.
type LockOptions struct {
	Caller   string
	Owner    string
	Amount   string
	Duration time.Duration
}

// TopUpOptions configure increase-amount and deposit-for.
type TopUpOptions struct {
	Caller string
	ID     uint64
	Amount string
}

// ExtendOptions configure lock extension.
type ExtendOptions struct {
	Caller   string
	ID       uint64
	Duration time.Duration
}

// WithdrawOptions configure withdrawal.
type WithdrawOptions struct {
	Caller string
	ID     uint64
}

// QueryOptions select the moment a weight is read at. At most one of At and
// Block is set; neither means now.
type QueryOptions struct {
	ID    uint64
	At    *time.Time
	Block *uint64
}

// FaucetOptions configure test balance credits.
type FaucetOptions struct {
	Who     string
	Amount  string
	Approve bool
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s must be a hex address, got %q", field, v)
	}
	return common.HexToAddress(v), nil
}

func (a *App) parseAmount(v string) (*big.Int, error) {
	return amount.Parse(v, a.Config.Deposit.Decimals)
}

func (a *App) display(v *big.Int) string {
	return amount.Format(v, a.Config.Deposit.Decimals) + " " + a.Config.Deposit.Symbol
}

// CreateLock locks a deposit and prints the new position.
func (a *App) CreateLock(ctx context.Context, opts LockOptions) error {
	caller, err := parseAddress("caller", opts.Caller)
	if err != nil {
		return err
	}
	owner := caller
	if opts.Owner != "" {
		if owner, err = parseAddress("owner", opts.Owner); err != nil {
			return err
		}
	}
	value, err := a.parseAmount(opts.Amount)
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	id, err := rt.escrow.CreateLockFor(ctx, caller, owner, value, opts.Duration)
	if err != nil {
		return err
	}
	lock, _ := rt.escrow.Locked(id)
	weight, err := rt.escrow.CurrentBalance(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "lock #%d created for %s: %s until %s, weight %s\n",
		id, owner.Hex(), a.display(lock.Amount), formatUnix(lock.End), amount.Format(weight, a.Config.Deposit.Decimals))
	return nil
}

// IncreaseAmount adds to a position owned by the caller.
func (a *App) IncreaseAmount(ctx context.Context, opts TopUpOptions) error {
	return a.topUp(ctx, opts, false)
}

// DepositFor adds to any active position on behalf of its owner.
func (a *App) DepositFor(ctx context.Context, opts TopUpOptions) error {
	return a.topUp(ctx, opts, true)
}

func (a *App) topUp(ctx context.Context, opts TopUpOptions, anyone bool) error {
	caller, err := parseAddress("caller", opts.Caller)
	if err != nil {
		return err
	}
	value, err := a.parseAmount(opts.Amount)
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if anyone {
		err = rt.escrow.DepositFor(ctx, caller, opts.ID, value)
	} else {
		err = rt.escrow.IncreaseAmount(ctx, caller, opts.ID, value)
	}
	if err != nil {
		return err
	}
	lock, _ := rt.escrow.Locked(opts.ID)
	fmt.Fprintf(a.Out, "lock #%d now holds %s\n", opts.ID, a.display(lock.Amount))
	return nil
}

// ExtendLock moves the unlock time of a position forward.
func (a *App) ExtendLock(ctx context.Context, opts ExtendOptions) error {
	caller, err := parseAddress("caller", opts.Caller)
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.escrow.ExtendLock(ctx, caller, opts.ID, opts.Duration); err != nil {
		return err
	}
	lock, _ := rt.escrow.Locked(opts.ID)
	fmt.Fprintf(a.Out, "lock #%d now unlocks at %s\n", opts.ID, formatUnix(lock.End))
	return nil
}

// Withdraw releases an expired position to its owner.
func (a *App) Withdraw(ctx context.Context, opts WithdrawOptions) error {
	caller, err := parseAddress("caller", opts.Caller)
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	paid, err := rt.escrow.Withdraw(ctx, caller, opts.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "lock #%d withdrawn: %s paid to %s\n", opts.ID, a.display(paid), caller.Hex())
	return nil
}

// Balance prints the weight of a position.
func (a *App) Balance(ctx context.Context, opts QueryOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var weight *big.Int
	switch {
	case opts.Block != nil:
		weight, err = rt.escrow.BalanceOfPositionAtBlock(ctx, opts.ID, *opts.Block)
	case opts.At != nil:
		weight = rt.escrow.BalanceOfPosition(opts.ID, opts.At.Unix())
	default:
		weight, err = rt.escrow.CurrentBalance(ctx, opts.ID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s\t%s\n", weight.String(), amount.Format(weight, a.Config.Deposit.Decimals))
	return nil
}

// Supply prints the aggregate weight.
func (a *App) Supply(ctx context.Context, opts QueryOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var total *big.Int
	switch {
	case opts.Block != nil:
		total, err = rt.escrow.TotalWeightAtBlock(ctx, *opts.Block)
	case opts.At != nil:
		total, err = rt.escrow.TotalWeight(ctx, opts.At.Unix())
	default:
		total, err = rt.escrow.CurrentTotal(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s\t%s\n", total.String(), amount.Format(total, a.Config.Deposit.Decimals))
	return nil
}

// Checkpoint materialises elapsed epoch boundaries.
func (a *App) Checkpoint(ctx context.Context) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.escrow.Checkpoint(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%d global points written, epoch %d\n", n, rt.escrow.Epoch())
	return nil
}

// TokenURI prints the metadata URI of a position, or its decoded SVG image.
func (a *App) TokenURI(ctx context.Context, id uint64, decode bool) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	uri, err := metadata.TokenURI(ctx, rt.escrow, id, a.Config.Deposit.Decimals, a.Config.Deposit.Symbol)
	if err != nil {
		return err
	}
	if !decode {
		fmt.Fprintln(a.Out, uri)
		return nil
	}
	_, image, err := metadata.Decode(uri)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, image)
	return nil
}

// Faucet credits a test balance in the built-in deposit book.
func (a *App) Faucet(ctx context.Context, opts FaucetOptions) error {
	who, err := parseAddress("address", opts.Who)
	if err != nil {
		return err
	}
	value, err := a.parseAmount(opts.Amount)
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.book == nil {
		return errors.New("faucet requires deposit.backend=book")
	}
	if err := rt.book.Mint(ctx, who, value); err != nil {
		return err
	}
	if opts.Approve {
		allowance := new(big.Int).Add(rt.book.Allowance(who), value)
		if err := rt.book.Approve(ctx, who, allowance); err != nil {
			return err
		}
	}
	bal, err := rt.book.BalanceOf(ctx, who)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s balance %s, allowance %s\n", who.Hex(), a.display(bal), a.display(rt.book.Allowance(who)))
	return nil
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
