package svg

import (
	"context"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
)

// unavailablePattern marks shapes that are layout features rather than
// usable dies: corner markers, edge exclusions, and the like. They still
// become boundaries when die-sized, but with Available = false.
var unavailablePattern = regexp.MustCompile(`(?i)marker|edge|excluded|unavailable`)

// maxAspectRatio rejects elongated shapes (scribe lines, rulers) from die
// candidacy.
const maxAspectRatio = 4.0

// candidate is a geometric element before the die heuristic runs.
type candidate struct {
	id        string
	bounds    geometry.Bounds
	available bool
}

type label struct {
	text string
	pos  geometry.Point2D
}

// Parse decodes an SVG document. Rect, polygon, and path elements become
// die candidates; group transforms propagate; a candidate survives only if
// its area is within an order of magnitude of the median and its aspect
// ratio is at most 4:1. Text elements label the nearest die.
func Parse(ctx context.Context, r io.Reader, filename string, opts schematic.ParseOptions) (*schematic.Data, error) {
	cands, labels, err := collect(ctx, r)
	if err != nil {
		return nil, err
	}

	scale := opts.Scale()
	boundaries := selectDies(cands, scale)
	applyLabels(boundaries, labels, scale)

	boundaries = schematic.ProcessBoundaries(boundaries, opts)
	if len(boundaries) == 0 {
		return nil, &schematic.ErrNoDies{Format: schematic.FormatSVG}
	}

	data := &schematic.Data{
		Filename:         filename,
		FormatType:       schematic.FormatSVG,
		UploadDate:       time.Now().UTC(),
		CoordinateSystem: geometry.SVGUnits,
		Dies:             boundaries,
		Metadata: schematic.Metadata{
			SoftwareInfo: "SVG",
			Units:        "user units",
			ScaleFactor:  scale,
		},
	}
	data.WaferSize = schematic.EstimateWaferSize(boundaries)
	data.Finalize()
	return data, nil
}

// collect walks the XML token stream, recursing through groups and
// composing their transform attributes.
func collect(ctx context.Context, r io.Reader) ([]candidate, []label, error) {
	dec := xml.NewDecoder(r)

	var cands []candidate
	var labels []label
	stack := []affine{identityAffine()}
	var textPending *label
	sawSVG := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &schematic.ParseError{
				Format: schematic.FormatSVG,
				Offset: dec.InputOffset(),
				Reason: err.Error(),
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			cur := stack[len(stack)-1]
			switch t.Name.Local {
			case "svg":
				sawSVG = true
				stack = append(stack, cur)
			case "g":
				next := cur
				if tr := attr(t, "transform"); tr != "" {
					next = cur.compose(parseTransformAttr(tr))
				}
				stack = append(stack, next)
			case "rect":
				x := attrFloat(t, "x")
				y := attrFloat(t, "y")
				w := attrFloat(t, "width")
				h := attrFloat(t, "height")
				if w > 0 && h > 0 {
					b := cur.applyBounds(geometry.Bounds{XMin: x, YMin: y, XMax: x + w, YMax: y + h})
					cands = append(cands, candidate{
						id:        attr(t, "id"),
						bounds:    b,
						available: isAvailable(t),
					})
				}
			case "polygon", "polyline":
				if pts := parsePoints(attr(t, "points")); len(pts) >= 3 {
					b := geometry.NewBounds()
					for _, p := range pts {
						b = b.Expand(cur.apply(p))
					}
					cands = append(cands, candidate{
						id:        attr(t, "id"),
						bounds:    b,
						available: isAvailable(t),
					})
				}
			case "path":
				if b, ok := pathBounds(attr(t, "d")); ok {
					cands = append(cands, candidate{
						id:        attr(t, "id"),
						bounds:    cur.applyBounds(b),
						available: isAvailable(t),
					})
				}
			case "text":
				pos := cur.apply(geometry.Point2D{X: attrFloat(t, "x"), Y: attrFloat(t, "y")})
				textPending = &label{pos: pos}
			}
		case xml.CharData:
			if textPending != nil {
				textPending.text += strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "svg", "g":
				if len(stack) > 1 {
					stack = stack[:len(stack)-1]
				}
			case "text":
				if textPending != nil && textPending.text != "" {
					labels = append(labels, *textPending)
				}
				textPending = nil
			}
		}
	}

	if !sawSVG {
		return nil, nil, &schematic.ParseError{
			Format: schematic.FormatSVG,
			Reason: "no svg root element",
		}
	}
	return cands, labels, nil
}

// selectDies runs the die heuristic over the candidates: area within one
// order of magnitude of the median, aspect ratio at most 4:1.
func selectDies(cands []candidate, scale float64) []schematic.DieBoundary {
	if len(cands) == 0 {
		return nil
	}
	areas := make([]float64, 0, len(cands))
	for _, c := range cands {
		areas = append(areas, c.bounds.Area())
	}
	med := median(areas)

	var out []schematic.DieBoundary
	for _, c := range cands {
		a := c.bounds.Area()
		if med > 0 && (a < med/10 || a > med*10) {
			continue
		}
		w, h := c.bounds.Width(), c.bounds.Height()
		if w <= 0 || h <= 0 {
			continue
		}
		ratio := w / h
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if ratio > maxAspectRatio {
			continue
		}
		b := geometry.Bounds{
			XMin: c.bounds.XMin * scale,
			YMin: c.bounds.YMin * scale,
			XMax: c.bounds.XMax * scale,
			YMax: c.bounds.YMax * scale,
		}
		die := schematic.NewDieBoundary(c.id, b, c.available)
		out = append(out, die)
	}
	return out
}

func applyLabels(boundaries []schematic.DieBoundary, labels []label, scale float64) {
	for _, l := range labels {
		pos := geometry.Point2D{X: l.pos.X * scale, Y: l.pos.Y * scale}
		bestIdx, bestDist := -1, 0.0
		for i, b := range boundaries {
			d := geometry.Distance(pos, geometry.Point2D{X: b.CenterX, Y: b.CenterY})
			if bestIdx < 0 || d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		if bestIdx >= 0 && boundaries[bestIdx].DieID == "" {
			boundaries[bestIdx].DieID = l.text
		}
	}
}

func isAvailable(t xml.StartElement) bool {
	probe := attr(t, "class") + " " + attr(t, "id")
	return !unavailablePattern.MatchString(probe)
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrFloat(t xml.StartElement, name string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSuffix(attr(t, name), "px"), 64)
	return v
}

func parsePoints(s string) []geometry.Point2D {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' || r == '\n' })
	var pts []geometry.Point2D
	for i := 0; i+1 < len(fields); i += 2 {
		x, err1 := strconv.ParseFloat(fields[i], 64)
		y, err2 := strconv.ParseFloat(fields[i+1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		pts = append(pts, geometry.Point2D{X: x, Y: y})
	}
	return pts
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
