package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/vose-cli/internal/monitoring"
	"github.com/sells-group/vose-cli/internal/store"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show circuit breakers, source health and recent runs",
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

		snap, err := monitoring.NewCollector(kv).Collect(ctx, cfg.Monitoring.LookbackRuns)
		if err != nil {
			return err
		}
		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), "", snap)
		}
		printStatus(cmd.OutOrStdout(), snap)
		return nil
	},
}

func printStatus(w io.Writer, snap *monitoring.Snapshot) {
	names := make([]string, 0, len(snap.Breakers)+len(snap.Health))
	for name := range snap.Breakers {
		names = append(names, name)
	}
	for name := range snap.Health {
		if _, ok := snap.Breakers[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	if len(names) == 0 {
		fmt.Fprintln(w, "No source state recorded yet.")
	} else {
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			b := snap.Breakers[name]
			h, tracked := snap.Health[name]
			state := string(b.State)
			if state == "" {
				state = "CLOSED"
			}
			nextAttempt := "-"
			if b.NextAttemptAt != nil {
				nextAttempt = b.NextAttemptAt.Local().Format(time.DateTime)
			}
			healthy, rate, latency := "-", "-", "-"
			if tracked {
				healthy = strconv.FormatBool(h.IsHealthy)
				rate = fmt.Sprintf("%.0f%%", h.SuccessRate*100)
				latency = fmt.Sprintf("%dms", h.ResponseTimeMs)
			}
			rows = append(rows, []string{
				name, state, strconv.Itoa(b.FailureCount), nextAttempt, healthy, rate, latency, lastIssue(h.Issues),
			})
		}
		fmt.Fprintln(w, renderTable("Sources",
			[]string{"Source", "Breaker", "Failures", "Next attempt", "Healthy", "Success", "Latency", "Last issue"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}

	fmt.Fprintf(w, "Runs: %d (last %d)  failed: %d (%.0f%%)  avg confidence: %.2f  avg duration: %dms\n",
		snap.Runs, snap.LookbackRuns, snap.FailedRuns, snap.RunFailRate*100, snap.AverageConfidence, snap.AverageDurationMs)
	if snap.LastRun != nil {
		fmt.Fprintf(w, "Last run: %s at %s, %d/%d valid records\n",
			snap.LastRun.RunID, snap.LastRun.StartedAt.Local().Format(time.DateTime),
			snap.LastRun.ValidRecords, snap.LastRun.TotalRecords)
	}

	if len(snap.RecentErrors) > 0 {
		rows := make([][]string, 0, len(snap.RecentErrors))
		for _, e := range snap.RecentErrors {
			rows = append(rows, []string{
				e.Timestamp.Local().Format(time.DateTime),
				string(e.Source),
				strconv.Itoa(e.Attempt),
				strconv.FormatBool(e.Recoverable),
				truncate(e.Message, 60),
			})
		}
		fmt.Fprintln(w, renderTable("Recent errors",
			[]string{"Time", "Source", "Attempt", "Recoverable", "Message"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}
}

func lastIssue(issues []string) string {
	if len(issues) == 0 {
		return "-"
	}
	return truncate(issues[len(issues)-1], 40)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
