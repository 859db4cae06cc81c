package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/strategy/rules"
	"github.com/fabworks/wafersampler/pkg/vendors"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List available rule and vendor plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := strategy.NewRuleRegistry()
		rules.Register(reg)
		vendorReg := vendors.NewRegistry()
		vendors.RegisterBuiltins(vendorReg)

		fmt.Println("Rule plugins:")
		for _, name := range reg.Names() {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println("Vendor emitters:")
		for _, name := range vendorReg.Names() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
