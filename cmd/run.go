package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/validate"
)

var (
	runSources []string
	runOut     string
	runDedupe  bool
	runExpire  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape all (or selected) sources once and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		result := env.Orchestrator.Run(ctx, model.ParseSourceIDs(runSources))

		if runDedupe {
			before := len(result.Showtimes)
			result.Showtimes = validate.Dedupe(result.Showtimes, env.Engine.Settings().DuplicateWindow)
			zap.L().Info("duplicates removed", zap.Int("removed", before-len(result.Showtimes)))
		}
		if runExpire {
			var n int
			result.Showtimes, n = validate.ExpireStale(result.Showtimes, time.Now(), 0)
			zap.L().Info("stale showtimes expired", zap.Int("expired", n))
		}

		zap.L().Info("run complete",
			zap.String("run_id", result.RunID),
			zap.Bool("success", result.Success),
			zap.Int("showtimes", len(result.Showtimes)),
			zap.Int("valid", result.Report.Valid),
			zap.Int("errors", len(result.Errors)),
		)

		if err := writeJSON(cmd.OutOrStdout(), runOut, result); err != nil {
			return err
		}
		if !result.Success {
			return eris.Errorf("run %s produced no valid showtimes", result.RunID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "source IDs to scrape (default all enabled)")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the result JSON to this file (default stdout)")
	runCmd.Flags().BoolVar(&runDedupe, "dedupe", false, "keep only the best record of each duplicate group")
	runCmd.Flags().BoolVar(&runExpire, "expire", false, "mark showtimes that already started as expired")
	rootCmd.AddCommand(runCmd)
}
