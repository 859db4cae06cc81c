package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/vendors"
)

var (
	exportVendor string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Simulate a strategy and emit a vendor file",
	Long: `Execute a strategy against a wafer map and write the result in a
vendor format (asml JSON or kla XML).`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&simStrategyFile, "strategy", "s", "", "strategy definition JSON file (required)")
	exportCmd.Flags().StringVarP(&simWaferFile, "wafer", "w", "", "wafer map JSON file (required)")
	exportCmd.Flags().StringVar(&exportVendor, "vendor", "asml", "vendor format (asml or kla)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")
	exportCmd.MarkFlagRequired("strategy")
	exportCmd.MarkFlagRequired("wafer")
}

func runExport(cmd *cobra.Command, args []string) error {
	compiled, def, err := loadStrategy(simStrategyFile)
	if err != nil {
		return err
	}
	w, err := loadWafer(simWaferFile)
	if err != nil {
		return err
	}

	vendorReg := vendors.NewRegistry()
	vendors.RegisterBuiltins(vendorReg)
	emitter, err := vendorReg.Lookup(exportVendor)
	if err != nil {
		return err
	}

	result, err := engine.Execute(context.Background(), compiled, w, strategy.ExecContext{})
	if err != nil {
		return err
	}

	out, err := emitter.Emit(result, vendors.Meta{
		StrategyID:   def.ID,
		StrategyName: def.Name,
		Version:      def.Version,
		VendorParams: def.VendorSpecificParams,
	}, nil)
	if err != nil {
		return err
	}

	if exportOut == "" {
		fmt.Println(string(out))
		return nil
	}
	if err := os.WriteFile(exportOut, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Printf("wrote %d bytes to %s (%s)\n", len(out), exportOut, emitter.ContentType())
	return nil
}
