package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"vote-escrow/internal/amount"
)

// Show prints the recent operations journal, or every position.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Positions {
		return a.showPositions(ctx, rt)
	}

	ops, err := rt.backend.ListOperations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(a.Out, "no operations found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tBlock\tKind\tLock\tActor\tAmount\tID")
	for _, op := range ops {
		lock := "-"
		if op.PositionID != 0 {
			lock = fmt.Sprintf("#%d", op.PositionID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			formatUnix(op.At),
			op.Block,
			op.Kind,
			lock,
			shortAddress(op.Actor.Hex()),
			amount.FormatFixed(op.Amount, a.Config.Deposit.Decimals, 4),
			op.ID,
		)
	}
	return writer.Flush()
}

func (a *App) showPositions(ctx context.Context, rt *runtime) error {
	positions, err := rt.escrow.Positions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Fprintln(a.Out, "no positions found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Lock\tOwner\tAmount\tUnlocks (UTC)\tWeight\tPoints")
	for _, p := range positions {
		weight, err := rt.escrow.CurrentBalance(ctx, p.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(
			writer,
			"#%d\t%s\t%s\t%s\t%s\t%d\n",
			p.ID,
			shortAddress(p.Owner.Hex()),
			amount.FormatFixed(p.Amount, a.Config.Deposit.Decimals, 4),
			formatUnix(p.End),
			amount.FormatFixed(weight, a.Config.Deposit.Decimals, 4),
			p.Epoch,
		)
	}
	return writer.Flush()
}

func shortAddress(v string) string {
	v = strings.TrimSpace(v)
	if len(v) <= 12 {
		return v
	}
	return v[:6] + "…" + v[len(v)-4:]
}
