package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "wafersampler",
	Short: "Wafer sampling strategy engine",
	Long: `wafersampler authors, validates, simulates, and exports wafer
sampling strategies for fab metrology and lithography tools.

Examples:
  wafersampler serve                          # Start the HTTP server
  wafersampler parse layout.gds               # Parse a layout schematic
  wafersampler simulate -s strat.json -w wafer.json
  wafersampler export -s strat.json -w wafer.json --vendor asml
  wafersampler rules                          # List rule and vendor plugins`,
	Version: "1.0.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
