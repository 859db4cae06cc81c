package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabworks/wafersampler/pkg/strategy"
)

var demoDir string

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Write sample data files",
	Long: `Write a sample 5x5 SVG schematic, a wafer map, and two strategy
definitions into a directory, ready for parse/simulate/export runs.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&demoDir, "dir", "demo-data", "output directory")
}

func demoSVG() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="640" height="640">` + "\n")
	for row := 0; row < 5; row++ {
		for col := 0; col < 5; col++ {
			corner := (row == 0 || row == 4) && (col == 0 || col == 4)
			class := "die"
			if corner {
				class = "die edge-marker"
			}
			fmt.Fprintf(&sb, `  <rect class="%s" x="%d" y="%d" width="100" height="100"/>`+"\n",
				class, 20+col*120, 20+row*120)
		}
	}
	sb.WriteString(`</svg>` + "\n")
	return sb.String()
}

func demoWafer() map[string]any {
	var dies []map[string]any
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			dies = append(dies, map[string]any{"x": x, "y": y, "available": true})
		}
	}
	return map[string]any{"dies": dies, "waferSize": "300mm"}
}

func demoStrategies() map[string]*strategy.Definition {
	return map[string]*strategy.Definition{
		"strategy-center-edge.json": {
			Name:         "Center-Edge Baseline",
			Description:  "Five center dies plus eight edge dies",
			StrategyType: strategy.TypeCenterEdge,
			ProcessStep:  "post-litho",
			ToolType:     "overlay",
			Author:       "demo",
			Version:      "1.0.0",
			Rules: []strategy.RuleConfig{
				{RuleType: "centerEdge", Weight: 1.0, Enabled: true,
					Parameters: map[string]any{"centerCount": 5, "edgeCount": 8, "edgeMargin": 1}},
			},
		},
		"strategy-mixed.json": {
			Name:         "Mixed Grid and Anchors",
			Description:  "Uniform grid blended with fixed anchor sites",
			StrategyType: strategy.TypeCustom,
			ProcessStep:  "post-etch",
			ToolType:     "cd-sem",
			Author:       "demo",
			Version:      "1.0.0",
			Rules: []strategy.RuleConfig{
				{RuleType: "uniformGrid", Weight: 0.6, Enabled: true,
					Parameters: map[string]any{"gridSpacing": 2}},
				{RuleType: "fixedPoint", Weight: 0.4, Enabled: true,
					Parameters: map[string]any{"points": []any{
						map[string]any{"x": 0, "y": 0},
						map[string]any{"x": 4, "y": 4},
					}}},
			},
		},
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(demoDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", demoDir, err)
	}

	files := map[string][]byte{
		"layout-5x5.svg": []byte(demoSVG()),
	}
	waferJSON, err := json.MarshalIndent(demoWafer(), "", "  ")
	if err != nil {
		return err
	}
	files["wafer-5x5.json"] = waferJSON
	for name, def := range demoStrategies() {
		data, err := json.MarshalIndent(def, "", "  ")
		if err != nil {
			return err
		}
		files[name] = data
	}

	for name, data := range files {
		path := filepath.Join(demoDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	fmt.Printf("\ntry: wafersampler parse %s\n", filepath.Join(demoDir, "layout-5x5.svg"))
	fmt.Printf("     wafersampler simulate -s %s -w %s\n",
		filepath.Join(demoDir, "strategy-mixed.json"), filepath.Join(demoDir, "wafer-5x5.json"))
	return nil
}
