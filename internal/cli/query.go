package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vote-escrow/internal/app"
)

var (
	queryAt    string
	queryBlock int64
	uriDecode  bool
)

func queryOptions(cmd *cobra.Command) (app.QueryOptions, error) {
	var opts app.QueryOptions
	if cmd.Flags().Changed("at") && cmd.Flags().Changed("block") {
		return opts, fmt.Errorf("--at and --block are mutually exclusive")
	}
	at, err := parseMoment("at", queryAt)
	if err != nil {
		return opts, err
	}
	opts.At = at
	if cmd.Flags().Changed("block") {
		if queryBlock < 0 {
			return opts, fmt.Errorf("--block must not be negative")
		}
		b := uint64(queryBlock)
		opts.Block = &b
	}
	return opts, nil
}

var balanceCmd = &cobra.Command{
	Use:   "balance <id>",
	Short: "Print the voting weight of a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		opts, err := queryOptions(cmd)
		if err != nil {
			return err
		}
		opts.ID = id
		return getApp().Balance(cmd.Context(), opts)
	},
}

var supplyCmd = &cobra.Command{
	Use:   "supply",
	Short: "Print the total voting weight",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := queryOptions(cmd)
		if err != nil {
			return err
		}
		return getApp().Supply(cmd.Context(), opts)
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Record global points for elapsed week boundaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Checkpoint(cmd.Context())
	},
}

var uriCmd = &cobra.Command{
	Use:   "uri <id>",
	Short: "Print the metadata URI of a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().TokenURI(cmd.Context(), id, uriDecode)
	},
}

func init() {
	for _, c := range []*cobra.Command{balanceCmd, supplyCmd} {
		c.Flags().StringVar(&queryAt, "at", "", "Timestamp to read at (RFC3339 or unix seconds)")
		c.Flags().Int64Var(&queryBlock, "block", 0, "Block height to read at")
	}
	uriCmd.Flags().BoolVar(&uriDecode, "svg", false, "Print the decoded SVG image instead of the URI")
}
