package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vote-escrow/internal/app"
)

var (
	showLimit     int
	showPositions bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent ledger operations or all positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:     showLimit,
			Positions: showPositions,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of operations to display")
	showCmd.Flags().BoolVar(&showPositions, "positions", false, "List positions instead of operations")
}
