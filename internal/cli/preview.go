package cli

import (
	"time"

	"github.com/spf13/cobra"

	"vote-escrow/internal/app"
)

var (
	previewAmount   string
	previewWeeks    int
	previewDuration time.Duration
	previewSteps    int
	previewStart    string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show how the weight of a hypothetical lock would decay",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := lockDuration(previewWeeks, previewDuration)
		if err != nil {
			return err
		}
		start, err := parseMoment("start", previewStart)
		if err != nil {
			return err
		}
		return getApp().Preview(cmd.Context(), app.PreviewOptions{
			Amount:   previewAmount,
			Duration: d,
			Steps:    previewSteps,
			Start:    start,
		})
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewAmount, "amount", "1", "Amount in token units, or wei:<atoms>")
	previewCmd.Flags().IntVar(&previewWeeks, "weeks", 0, "Lock length in weeks")
	previewCmd.Flags().DurationVar(&previewDuration, "duration", 0, "Lock length as a duration")
	previewCmd.Flags().IntVar(&previewSteps, "steps", 8, "Number of intervals to sample")
	previewCmd.Flags().StringVar(&previewStart, "start", "", "Lock start (RFC3339 or unix seconds, defaults to now)")
}
