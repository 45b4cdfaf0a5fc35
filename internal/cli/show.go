package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"relay-weather/internal/app"
)

var (
	showLimit    int
	showDownOnly bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display tracked relays",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			DownOnly: showDownOnly,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Number of relays to display (0 for all)")
	showCmd.Flags().BoolVar(&showDownOnly, "down", false, "Only list relays currently marked down")
}
