package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"relay-weather/internal/app"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate all running relays once and send due notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().RunOnce(cmd.Context(), app.RunOptions{DryRun: runDryRun})
		if err != nil {
			return err
		}
		if report.LockHeld {
			fmt.Fprintln(cmd.OutOrStdout(), "another run holds the lock; nothing done")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "relays=%d welcome=%d reward=%d skipped=%d marked_down=%d pruned=%d duration=%s\n",
			report.Relays, report.Welcome, report.Reward, report.Skipped, report.MarkedDown, report.Pruned, report.Duration)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run evaluation passes on a schedule and expose metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate against in-memory state and log notifications instead of sending")
}
