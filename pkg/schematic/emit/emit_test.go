package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/schematic/dxf"
	svgparser "github.com/fabworks/wafersampler/pkg/schematic/svg"
)

// layout3x3 builds a 3x3 grid of 100x100 dies with one unavailable corner.
func layout3x3() *schematic.Data {
	data := &schematic.Data{
		ID:               "sch-emit",
		Filename:         "layout.svg",
		FormatType:       schematic.FormatSVG,
		UploadDate:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		CoordinateSystem: geometry.SVGUnits,
	}
	idx := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			b := geometry.Bounds{
				XMin: float64(col) * 120,
				YMin: float64(row) * 120,
				XMax: float64(col)*120 + 100,
				YMax: float64(row)*120 + 100,
			}
			die := schematic.NewDieBoundary(dieID(idx), b, !(row == 0 && col == 0))
			data.Dies = append(data.Dies, die)
			idx++
		}
	}
	data.Finalize()
	return data
}

func dieID(i int) string {
	return []string{"die_000", "die_001", "die_002", "die_003", "die_004",
		"die_005", "die_006", "die_007", "die_008"}[i]
}

func TestSVGEmit(t *testing.T) {
	data := layout3x3()
	out, err := SVG(data)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, "<svg") || !strings.Contains(s, "</svg>") {
		t.Fatal("output is not an SVG document")
	}
	if got := strings.Count(s, "<rect"); got != 9 {
		t.Errorf("rect count = %d, want 9", got)
	}
	if !strings.Contains(s, unavailableFill) {
		t.Error("unavailable die color missing")
	}
	if !strings.Contains(s, "die_004") {
		t.Error("die label missing")
	}
}

func TestSVGEmitReparses(t *testing.T) {
	data := layout3x3()
	out, err := SVG(data)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := svgparser.Parse(context.Background(), bytes.NewReader(out), "reemit.svg", schematic.ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Statistics.DieCount != 9 {
		t.Errorf("reparsed dieCount = %d, want 9", parsed.Statistics.DieCount)
	}
}

func TestDXFEmitReparses(t *testing.T) {
	data := layout3x3()
	out, err := DXF(data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "LWPOLYLINE") || !strings.HasSuffix(strings.TrimSpace(string(out)), "EOF") {
		t.Fatal("output is not a DXF document")
	}

	// The available-die layer wins auto-selection, so the 8 available dies
	// come back with their ids.
	parsed, err := dxf.Parse(context.Background(), bytes.NewReader(out), "reemit.dxf", schematic.ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Statistics.DieCount != 8 {
		t.Errorf("reparsed dieCount = %d, want 8", parsed.Statistics.DieCount)
	}
	found := false
	for _, die := range parsed.Dies {
		if die.DieID == "die_004" {
			found = true
			if die.Bounds.XMin != 120 || die.Bounds.YMin != 120 {
				t.Errorf("die_004 bounds = %+v", die.Bounds)
			}
		}
	}
	if !found {
		t.Error("text label die_004 not recovered")
	}
}

func TestEmitEmptySchematic(t *testing.T) {
	empty := &schematic.Data{ID: "empty"}
	if _, err := SVG(empty); err == nil {
		t.Error("SVG of empty schematic should fail")
	}
	if _, err := DXF(empty); err == nil {
		t.Error("DXF of empty schematic should fail")
	}
}
