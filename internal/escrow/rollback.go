package escrow

import (
	"context"

	"github.com/rs/zerolog"

	"vote-escrow/internal/metrics"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// rollback undoes collaborator effects in reverse order when an operation
// fails after they ran.
type rollback struct {
	logger zerolog.Logger
	steps  []compensation
}

func (r *rollback) push(name string, fn func(ctx context.Context) error) {
	r.steps = append(r.steps, compensation{name: name, fn: fn})
}

func (r *rollback) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		err := step.fn(ctx)
		metrics.RecordCompensation(err == nil)
		if err != nil {
			r.logger.Error().Err(err).Str("step", step.name).Msg("compensation failed")
			continue
		}
		r.logger.Warn().Str("step", step.name).Msg("compensated collaborator effect")
	}
	r.steps = nil
}
