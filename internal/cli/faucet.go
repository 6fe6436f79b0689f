package cli

import (
	"github.com/spf13/cobra"

	"vote-escrow/internal/app"
)

var (
	faucetAmount  string
	faucetApprove bool
)

var faucetCmd = &cobra.Command{
	Use:   "faucet <address>",
	Short: "Credit test funds in the built-in deposit book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Faucet(cmd.Context(), app.FaucetOptions{
			Who:     args[0],
			Amount:  faucetAmount,
			Approve: faucetApprove,
		})
	},
}

func init() {
	faucetCmd.Flags().StringVar(&faucetAmount, "amount", "", "Amount in token units, or wei:<atoms>")
	faucetCmd.Flags().BoolVar(&faucetApprove, "approve", true, "Also raise the custody allowance by the same amount")
	_ = faucetCmd.MarkFlagRequired("amount")
}
