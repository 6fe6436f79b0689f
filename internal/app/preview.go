package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"vote-escrow/internal/amount"
	"vote-escrow/internal/clock"
	"vote-escrow/internal/deposit"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/registry"
)

// PreviewOptions describe a hypothetical lock.
type PreviewOptions struct {
	Amount   string
	Duration time.Duration
	Steps    int
	// Start defaults to now.
	Start *time.Time
}

var (
	previewOwner   = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	previewCustody = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

// Preview prints the decay curve of a lock that has not been created. It runs
// against a throwaway in-memory escrow, so nothing is persisted.
func (a *App) Preview(ctx context.Context, opts PreviewOptions) error {
	value, err := a.parseAmount(opts.Amount)
	if err != nil {
		return err
	}
	steps := opts.Steps
	if steps <= 0 {
		steps = 8
	}
	start := time.Now().UTC()
	if opts.Start != nil {
		start = opts.Start.UTC()
	}

	samples, end, err := previewCurve(ctx, value, opts.Duration, start, steps)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "locking %s at %s unlocks at %s\n", a.display(value), start.Format(time.RFC3339), formatUnix(end))
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tWeight\tShare of amount")
	for _, s := range samples {
		share := amount.ToDecimal(s.Weight, 0).Div(amount.ToDecimal(value, 0)).Shift(2)
		fmt.Fprintf(writer, "%s\t%s\t%s%%\n",
			s.At.Format(time.RFC3339),
			amount.FormatFixed(s.Weight, a.Config.Deposit.Decimals, 4),
			share.StringFixed(2),
		)
	}
	return writer.Flush()
}

func previewCurve(ctx context.Context, value *big.Int, duration time.Duration, start time.Time, steps int) ([]WeightSample, int64, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, 0, escrow.ErrInvalidAmount
	}

	clk := clock.NewManual(start.Unix())
	book := deposit.NewBook(previewCustody, nil)
	if err := book.Mint(ctx, previewOwner, value); err != nil {
		return nil, 0, err
	}
	if err := book.Approve(ctx, previewOwner, value); err != nil {
		return nil, 0, err
	}

	e, err := escrow.Open(ctx, escrow.Options{
		Clock:    clk,
		Deposit:  book,
		Registry: registry.NewMemory(nil),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		return nil, 0, err
	}
	id, err := e.CreateLock(ctx, previewOwner, value, duration)
	if err != nil {
		return nil, 0, err
	}
	lock, ok := e.Locked(id)
	if !ok {
		return nil, 0, errors.New("preview lock vanished")
	}

	span := lock.End - start.Unix()
	samples := make([]WeightSample, 0, steps+1)
	for i := 0; i <= steps; i++ {
		ts := start.Unix() + span*int64(i)/int64(steps)
		samples = append(samples, WeightSample{
			At:     time.Unix(ts, 0).UTC(),
			Weight: e.BalanceOfPosition(id, ts),
		})
	}
	return samples, lock.End, nil
}
