package cli

import (
	"github.com/spf13/cobra"
)

var (
	simulateOwner  string
	simulateAmount string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-notice",
	Short: "模拟一个已到期的锁仓并发送提醒",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateNotice(cmd.Context(), simulateOwner, simulateAmount)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOwner, "owner", "0x000000000000000000000000000000000000bEEF", "锁仓所有者地址")
	simulateCmd.Flags().StringVar(&simulateAmount, "amount", "1000", "到期可提取数量")
}
