package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"relay-weather/internal/app"
)

var (
	exportPNGPath     string
	exportCSVPath     string
	exportFingerprint string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tracked relays as CSV and/or a relay's history as PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			Fingerprint: strings.ToUpper(strings.TrimSpace(exportFingerprint)),
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart of one relay's history")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write tracked relays as CSV")
	exportCmd.Flags().StringVar(&exportFingerprint, "fingerprint", "", "Relay fingerprint to chart (required with --png)")
}
