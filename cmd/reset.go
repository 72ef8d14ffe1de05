package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/orchestrator"
	"github.com/sells-group/vose-cli/internal/store"
)

var resetCmd = &cobra.Command{
	Use:   "reset [source...]",
	Short: "Close the circuit breakers of the named sources (all when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		kv, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer kv.Close() //nolint:errcheck

		reset, err := orchestrator.ResetBreakers(ctx, kv, model.ParseSourceIDs(args))
		if err != nil {
			return err
		}
		if len(reset) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No breakers to reset.")
			return nil
		}
		for _, id := range reset {
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
