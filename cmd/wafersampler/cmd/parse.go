package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/schematic/ingest"
)

var (
	parseTargetLayer string
	parseTargetCell  string
	parseScale       float64
	parseJSON        bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <layout_file>",
	Short: "Parse a layout schematic",
	Long: `Parse a GDSII, DXF, or SVG layout file into die boundaries.

Without --json: prints a summary. With --json: prints the full parsed
schematic as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVar(&parseTargetLayer, "target-layer", "", "layer to extract dies from")
	parseCmd.Flags().StringVar(&parseTargetCell, "target-cell", "", "GDSII cell to extract dies from")
	parseCmd.Flags().Float64Var(&parseScale, "scale", 0, "coordinate scale factor")
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the full schematic as JSON")
}

func runParse(cmd *cobra.Command, args []string) error {
	filename := args[0]
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}

	parsed, err := ingest.Parse(context.Background(), filename, data, schematic.ParseOptions{
		TargetLayer:     parseTargetLayer,
		TargetCell:      parseTargetCell,
		CoordinateScale: parseScale,
	})
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	if parseJSON {
		out, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("File:       %s\n", parsed.Filename)
	fmt.Printf("Format:     %s\n", parsed.FormatType)
	fmt.Printf("Dies:       %d (%d available)\n",
		parsed.Statistics.DieCount, parsed.Statistics.AvailableDieCount)
	fmt.Printf("Bounds:     (%.2f, %.2f) - (%.2f, %.2f)\n",
		parsed.LayoutBounds.XMin, parsed.LayoutBounds.YMin,
		parsed.LayoutBounds.XMax, parsed.LayoutBounds.YMax)
	if parsed.WaferSize != "" {
		fmt.Printf("Wafer size: %s\n", parsed.WaferSize)
	}
	if verbose {
		for _, die := range parsed.Dies {
			fmt.Printf("  %-12s center=(%.2f, %.2f) size=%.2fx%.2f available=%t\n",
				die.DieID, die.CenterX, die.CenterY, die.Width, die.Height, die.Available)
		}
	}
	return nil
}
