package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"relay-weather/internal/app"
	"relay-weather/internal/notify"
)

var (
	simulateKind        string
	simulateTo          string
	simulateFingerprint string
	simulateName        string
	simulateExit        bool
	simulateBandwidth   float64
	simulateSummary     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send a synthetic notification through the configured transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := notify.Kind(simulateKind)
		if kind != notify.KindWelcome && kind != notify.KindReward {
			return fmt.Errorf("--kind must be %q or %q", notify.KindWelcome, notify.KindReward)
		}

		opts := app.SimulateOptions{
			Kind:        kind,
			To:          simulateTo,
			Fingerprint: simulateFingerprint,
			Name:        simulateName,
			Exit:        simulateExit,
			Bandwidth:   decimal.NewFromFloat(simulateBandwidth),
			Summary:     simulateSummary,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(notify.KindWelcome), "Notification kind (welcome or reward)")
	simulateCmd.Flags().StringVar(&simulateTo, "to", "", "Recipient address")
	simulateCmd.Flags().StringVar(&simulateFingerprint, "fingerprint", "0000000000000000000000000000000000000000", "Relay fingerprint shown in the message")
	simulateCmd.Flags().StringVar(&simulateName, "name", "simulated", "Relay nickname shown in the message")
	simulateCmd.Flags().BoolVar(&simulateExit, "exit", false, "Mark the relay as an exit")
	simulateCmd.Flags().Float64Var(&simulateBandwidth, "bandwidth", 500, "Average bandwidth in kB/s for reward messages")
	simulateCmd.Flags().BoolVar(&simulateSummary, "summary", false, "Also send a run summary to Telegram")
}
