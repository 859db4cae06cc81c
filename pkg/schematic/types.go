// Package schematic defines the uniform die-boundary model every layout
// parser produces, plus the shared post-processing each format applies
// before a schematic is stored.
package schematic

import (
	"fmt"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
)

// Format identifies the source layout format.
type Format string

const (
	FormatGDSII Format = "gdsii"
	FormatDXF   Format = "dxf"
	FormatSVG   Format = "svg"
)

// DieBoundary is one die's axis-aligned rectangle in the schematic's
// coordinate system. Parsers compute a bounding box when the source shape
// is not rectangular.
type DieBoundary struct {
	DieID     string            `json:"dieId"`
	Bounds    geometry.Bounds   `json:"bounds"`
	CenterX   float64           `json:"centerX"`
	CenterY   float64           `json:"centerY"`
	Width     float64           `json:"width"`
	Height    float64           `json:"height"`
	Area      float64           `json:"area"`
	Available bool              `json:"available"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewDieBoundary derives the center and size fields from bounds.
func NewDieBoundary(id string, b geometry.Bounds, available bool) DieBoundary {
	c := b.Center()
	return DieBoundary{
		DieID:     id,
		Bounds:    b,
		CenterX:   c.X,
		CenterY:   c.Y,
		Width:     b.Width(),
		Height:    b.Height(),
		Area:      b.Area(),
		Available: available,
	}
}

// Metadata carries provenance recorded at parse time.
type Metadata struct {
	SoftwareInfo string  `json:"software,omitempty"`
	Units        string  `json:"units,omitempty"`
	ScaleFactor  float64 `json:"scaleFactor,omitempty"`
}

// Statistics are derived counts over the die set.
type Statistics struct {
	DieCount          int     `json:"dieCount"`
	AvailableDieCount int     `json:"availableDieCount"`
	MedianDieWidth    float64 `json:"medianDieWidth"`
	MedianDieArea     float64 `json:"medianDieArea"`
}

// Data is the uniform parse result stored by the repository. Immutable
// after ingestion; replace, don't edit.
type Data struct {
	ID               string                    `json:"id"`
	Filename         string                    `json:"filename"`
	FormatType       Format                    `json:"formatType"`
	UploadDate       time.Time                 `json:"uploadDate"`
	CoordinateSystem geometry.CoordinateSystem `json:"coordinateSystem"`
	WaferSize        string                    `json:"waferSize,omitempty"`
	Dies             []DieBoundary             `json:"dies"`
	LayoutBounds     geometry.Bounds           `json:"layoutBounds"`
	Statistics       Statistics                `json:"statistics"`
	Metadata         Metadata                  `json:"metadata"`
}

// Finalize computes the derived fields (layout bounds, statistics) from the
// die list. Call after the die set is complete.
func (d *Data) Finalize() {
	boundsList := make([]geometry.Bounds, 0, len(d.Dies))
	avail := 0
	for _, die := range d.Dies {
		boundsList = append(boundsList, die.Bounds)
		if die.Available {
			avail++
		}
	}
	d.LayoutBounds = geometry.Enclosing(boundsList)
	d.Statistics = Statistics{
		DieCount:          len(d.Dies),
		AvailableDieCount: avail,
		MedianDieWidth:    medianOf(d.Dies, func(b DieBoundary) float64 { return b.Width }),
		MedianDieArea:     medianOf(d.Dies, func(b DieBoundary) float64 { return b.Area }),
	}
}

// ParseOptions are the caller-supplied hints forwarded to a parser.
type ParseOptions struct {
	TargetCell      string
	TargetLayer     string
	CoordinateScale float64
	// DieSizeFilter drops dies whose area falls outside [Min, Max] when
	// Max > 0.
	DieSizeFilterMin float64
	DieSizeFilterMax float64
}

// Scale returns the coordinate scale, defaulting to 1.
func (o ParseOptions) Scale() float64 {
	if o.CoordinateScale == 0 {
		return 1.0
	}
	return o.CoordinateScale
}

// ParseError reports malformed input, carrying the format and where in the
// stream the problem was hit (byte offset for binary formats, line for text).
type ParseError struct {
	Format Format
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("%s: parse error at offset %d: %s", e.Format, e.Offset, e.Reason)
	}
	return fmt.Sprintf("%s: parse error: %s", e.Format, e.Reason)
}

// ErrNoDies is returned when detection produced no die boundaries.
type ErrNoDies struct {
	Format Format
}

func (e *ErrNoDies) Error() string {
	return fmt.Sprintf("%s: no dies detected", e.Format)
}
