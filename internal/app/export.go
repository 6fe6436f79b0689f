package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"vote-escrow/internal/amount"
	"vote-escrow/internal/escrow"
)

// WeightSample is one point of an exported weight curve.
type WeightSample struct {
	At     time.Time
	Weight *big.Int
}

// Export renders a weight curve as CSV and/or PNG. Without a position the
// curve is the aggregate weight, which only exists up to now; a position's
// curve may extend to its unlock time.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	samples, err := a.sampleWeights(ctx, rt.escrow, opts)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}
	a.Logger.Info().Int("exported", len(samples)).Uint64("position_id", opts.PositionID).Msg("exporting weight curve")

	title := "Total voting weight"
	if opts.PositionID != 0 {
		title = fmt.Sprintf("Lock #%d voting weight", opts.PositionID)
	}

	if opts.CSVPath != "" {
		if err := writeWeightsCSV(opts.CSVPath, samples, a.Config.Deposit.Decimals); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeWeightsPNG(opts.PNGPath, title, samples, a.Config.Deposit.Decimals); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) sampleWeights(ctx context.Context, e *escrow.Escrow, opts ExportOptions) ([]WeightSample, error) {
	now, err := escrowNow(ctx, e)
	if err != nil {
		return nil, err
	}

	to := now
	if opts.PositionID != 0 {
		lock, ok := e.Locked(opts.PositionID)
		if !ok {
			return nil, fmt.Errorf("lock #%d not found", opts.PositionID)
		}
		if end := time.Unix(lock.End, 0).UTC(); end.After(to) {
			to = end
		}
	}
	if opts.To != nil {
		to = opts.To.UTC()
	}
	if opts.PositionID == 0 && to.After(now) {
		return nil, errors.New("aggregate weight cannot be exported past the current time")
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	lo, hi := from.Unix(), to.Unix()
	if hi <= lo {
		return nil, errors.New("from must be before to")
	}

	points := opts.MaxPoints
	if points < 2 {
		points = 2
	}
	if span := hi - lo; span+1 < int64(points) {
		points = int(span + 1)
	}

	samples := make([]WeightSample, 0, points)
	for i := 0; i < points; i++ {
		ts := lo + (hi-lo)*int64(i)/int64(points-1)
		var weight *big.Int
		if opts.PositionID != 0 {
			weight = e.BalanceOfPosition(opts.PositionID, ts)
		} else {
			w, err := e.TotalWeight(ctx, ts)
			if err != nil {
				return nil, err
			}
			weight = w
		}
		samples = append(samples, WeightSample{At: time.Unix(ts, 0).UTC(), Weight: weight})
	}
	return samples, nil
}

// escrowNow reads the escrow clock, which follows the chain when configured.
func escrowNow(ctx context.Context, e *escrow.Escrow) (time.Time, error) {
	m, err := e.Now(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(m, 0).UTC(), nil
}

func writeWeightsCSV(path string, samples []WeightSample, decimals int32) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"ts", "unix", "weight_atoms", "weight"}); err != nil {
		return err
	}
	for _, s := range samples {
		record := []string{
			s.At.Format(time.RFC3339),
			fmt.Sprintf("%d", s.At.Unix()),
			s.Weight.String(),
			amount.Format(s.Weight, decimals),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeWeightsPNG(path, title string, samples []WeightSample, decimals int32) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.At
		y[i] = amount.ToDecimal(s.Weight, decimals).InexactFloat64()
	}

	yRange := &chart.ContinuousRange{Min: y[0], Max: y[0]}
	for _, v := range y {
		yRange.Min = min(yRange.Min, v)
		yRange.Max = max(yRange.Max, v)
	}
	if yRange.Max == yRange.Min {
		yRange.Max = yRange.Min + 1
	}

	weightFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Weight",
			Range:          yRange,
			ValueFormatter: weightFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    title,
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
