package emit

import (
	"bytes"
	"fmt"

	"github.com/fabworks/wafersampler/pkg/schematic"
)

const (
	layerAvailable   = "DIE_AVAILABLE"
	layerUnavailable = "DIE_UNAVAILABLE"
)

// DXF renders the die layout as a minimal DXF document: a closed
// LWPOLYLINE per die on an availability layer plus a TEXT label at the
// die center on the same layer, so a reparse recovers the ids.
func DXF(data *schematic.Data) ([]byte, error) {
	if len(data.Dies) == 0 {
		return nil, fmt.Errorf("emit: schematic %s has no dies", data.ID)
	}

	var buf bytes.Buffer
	tag := func(code int, value string) {
		fmt.Fprintf(&buf, "%d\n%s\n", code, value)
	}
	num := func(code int, v float64) {
		fmt.Fprintf(&buf, "%d\n%g\n", code, v)
	}

	tag(0, "SECTION")
	tag(2, "HEADER")
	tag(9, "$ACADVER")
	tag(1, "AC1024")
	tag(0, "ENDSEC")

	// Available dies first so their layer is the one a reparse selects.
	dies := make([]schematic.DieBoundary, 0, len(data.Dies))
	for _, die := range data.Dies {
		if die.Available {
			dies = append(dies, die)
		}
	}
	for _, die := range data.Dies {
		if !die.Available {
			dies = append(dies, die)
		}
	}

	tag(0, "SECTION")
	tag(2, "ENTITIES")
	for _, die := range dies {
		layer := layerAvailable
		if !die.Available {
			layer = layerUnavailable
		}
		b := die.Bounds

		tag(0, "LWPOLYLINE")
		tag(8, layer)
		tag(90, "4")
		tag(70, "1") // closed
		num(10, b.XMin)
		num(20, b.YMin)
		num(10, b.XMax)
		num(20, b.YMin)
		num(10, b.XMax)
		num(20, b.YMax)
		num(10, b.XMin)
		num(20, b.YMax)

		tag(0, "TEXT")
		tag(8, layer)
		num(10, die.CenterX)
		num(20, die.CenterY)
		num(40, labelHeight(die))
		tag(1, die.DieID)
	}
	tag(0, "ENDSEC")
	tag(0, "EOF")

	return buf.Bytes(), nil
}

// labelHeight sizes the text at a tenth of the die's shorter side.
func labelHeight(die schematic.DieBoundary) float64 {
	h := die.Width
	if die.Height < h {
		h = die.Height
	}
	h *= 0.1
	if h <= 0 {
		h = 1
	}
	return h
}
