// Package emit renders a parsed schematic back out as SVG or DXF so a
// stored layout can be inspected or fed to other CAD tooling.
package emit

import (
	"bytes"
	"fmt"
	"math"

	svg "github.com/ajstarks/svgo"

	"github.com/fabworks/wafersampler/pkg/schematic"
)

const (
	availableFill   = "#4CAF50"
	unavailableFill = "#F44336"
	// svgCanvasSpan is the target pixel span of the longer layout axis;
	// svgo draws on an integer canvas, so small layouts are scaled up.
	svgCanvasSpan = 1000.0
)

// SVG renders the die layout as an SVG document: one rect per die,
// colored by availability, with the die id centered on top.
func SVG(data *schematic.Data) ([]byte, error) {
	if len(data.Dies) == 0 {
		return nil, fmt.Errorf("emit: schematic %s has no dies", data.ID)
	}

	lb := data.LayoutBounds
	span := math.Max(lb.Width(), lb.Height())
	scale := 1.0
	if span > 0 && span < svgCanvasSpan {
		scale = svgCanvasSpan / span
	}
	sx := func(v float64) int { return int(math.Round((v - lb.XMin) * scale)) }
	sy := func(v float64) int { return int(math.Round((v - lb.YMin) * scale)) }
	sw := func(v float64) int { return int(math.Round(v * scale)) }

	width := sw(lb.Width())
	height := sw(lb.Height())

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(width, height)
	canvas.Title(fmt.Sprintf("%s - Die Layout", data.Filename))
	canvas.Desc(fmt.Sprintf("Wafer layout with %d dies", len(data.Dies)))

	for _, die := range data.Dies {
		fill := availableFill
		class := "die"
		if !die.Available {
			fill = unavailableFill
			class = "die unavailable"
		}
		canvas.Rect(sx(die.Bounds.XMin), sy(die.Bounds.YMin), sw(die.Width), sw(die.Height),
			fmt.Sprintf(`class="%s" fill="%s" stroke="#333" stroke-width="1" opacity="0.7"`, class, fill))
		canvas.Text(sx(die.CenterX), sy(die.CenterY), die.DieID,
			`text-anchor="middle" dominant-baseline="central" font-size="8" fill="white"`)
	}

	canvas.End()
	return buf.Bytes(), nil
}
