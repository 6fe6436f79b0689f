package cli

import (
	"time"

	"github.com/spf13/cobra"

	"vote-escrow/internal/app"
)

var (
	lockCaller       string
	lockOwner        string
	lockAmount       string
	lockWeeks        int
	lockDurationFlag time.Duration
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Create and manage locked positions",
}

var lockCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Lock a deposit until a week-aligned unlock time",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := lockDurationFlags()
		if err != nil {
			return err
		}
		return getApp().CreateLock(cmd.Context(), app.LockOptions{
			Caller:   lockCaller,
			Owner:    lockOwner,
			Amount:   lockAmount,
			Duration: d,
		})
	},
}

var lockIncreaseCmd = &cobra.Command{
	Use:   "increase <id>",
	Short: "Add to a position you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().IncreaseAmount(cmd.Context(), app.TopUpOptions{Caller: lockCaller, ID: id, Amount: lockAmount})
	},
}

var lockDepositForCmd = &cobra.Command{
	Use:   "deposit-for <id>",
	Short: "Add to any active position on behalf of its owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().DepositFor(cmd.Context(), app.TopUpOptions{Caller: lockCaller, ID: id, Amount: lockAmount})
	},
}

var lockExtendCmd = &cobra.Command{
	Use:   "extend <id>",
	Short: "Move the unlock time of a position forward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		d, err := lockDurationFlags()
		if err != nil {
			return err
		}
		return getApp().ExtendLock(cmd.Context(), app.ExtendOptions{Caller: lockCaller, ID: id, Duration: d})
	},
}

var lockWithdrawCmd = &cobra.Command{
	Use:   "withdraw <id>",
	Short: "Release an expired position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().Withdraw(cmd.Context(), app.WithdrawOptions{Caller: lockCaller, ID: id})
	},
}

func lockDurationFlags() (time.Duration, error) {
	return lockDuration(lockWeeks, lockDurationFlag)
}

func init() {
	for _, c := range []*cobra.Command{lockCreateCmd, lockIncreaseCmd, lockDepositForCmd, lockExtendCmd, lockWithdrawCmd} {
		c.Flags().StringVar(&lockCaller, "caller", "", "Address performing the operation")
		_ = c.MarkFlagRequired("caller")
		lockCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{lockCreateCmd, lockIncreaseCmd, lockDepositForCmd} {
		c.Flags().StringVar(&lockAmount, "amount", "", "Amount in token units, or wei:<atoms>")
		_ = c.MarkFlagRequired("amount")
	}
	for _, c := range []*cobra.Command{lockCreateCmd, lockExtendCmd} {
		c.Flags().IntVar(&lockWeeks, "weeks", 0, "Lock length in weeks")
		c.Flags().DurationVar(&lockDurationFlag, "duration", 0, "Lock length as a duration, e.g. 2016h")
	}
	lockCreateCmd.Flags().StringVar(&lockOwner, "owner", "", "Owner of the new position (defaults to caller)")
}
