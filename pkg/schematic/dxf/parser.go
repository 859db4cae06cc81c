package dxf

import (
	"context"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
)

// dieLayerPattern selects the die-carrying layer when the caller does not
// name one.
var dieLayerPattern = regexp.MustCompile(`(?i)die|boundary|chip`)

// entity is one parsed ENTITIES-section record reduced to what die
// detection needs.
type entity struct {
	kind   string
	layer  string
	points []geometry.Point2D
	closed bool
	radius float64
	text   string
	block  string
	insert geometry.Point2D
}

// document is the parsed file: entity list plus block definitions.
type document struct {
	entities []entity
	blocks   map[string][]entity
	layers   []string
}

// Parse decodes a DXF stream. Entities on the target layer become die
// boundaries; TEXT/MTEXT entities on the same layer supply die ids. When
// no layer is named, the layer whose name matches die/boundary/chip wins,
// falling back to the default layer "0".
func Parse(ctx context.Context, r io.Reader, filename string, opts schematic.ParseOptions) (*schematic.Data, error) {
	doc, err := scanDocument(ctx, r)
	if err != nil {
		return nil, err
	}

	layer := selectLayer(doc, opts.TargetLayer)
	scale := opts.Scale()

	boundaries := extractBoundaries(doc, layer, scale)
	labelFromText(boundaries, doc, layer, scale)

	boundaries = schematic.ProcessBoundaries(boundaries, opts)
	if len(boundaries) == 0 {
		return nil, &schematic.ErrNoDies{Format: schematic.FormatDXF}
	}

	data := &schematic.Data{
		Filename:         filename,
		FormatType:       schematic.FormatDXF,
		UploadDate:       time.Now().UTC(),
		CoordinateSystem: geometry.CADUnits,
		Dies:             boundaries,
		Metadata: schematic.Metadata{
			SoftwareInfo: "AutoCAD DXF",
			Units:        "drawing units",
			ScaleFactor:  scale,
		},
	}
	data.WaferSize = schematic.EstimateWaferSize(boundaries)
	data.Finalize()
	return data, nil
}

// scanDocument walks the tag stream once, collecting entities from the
// ENTITIES section and block definitions from BLOCKS.
func scanDocument(ctx context.Context, r io.Reader) (*document, error) {
	sc := newScanner(r)
	doc := &document{blocks: make(map[string][]entity)}

	section := ""
	blockName := ""
	layerSeen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := sc.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if t.code != 0 {
			if section == "" && t.code == 2 {
				// SECTION name follows the 0/SECTION tag.
				section = strings.ToUpper(t.value)
			}
			continue
		}

		switch strings.ToUpper(t.value) {
		case "SECTION":
			section = ""
		case "ENDSEC":
			section = "DONE"
		case "EOF":
			return doc, nil
		case "BLOCK":
			if section == "BLOCKS" {
				blockName = readBlockName(sc)
			}
		case "ENDBLK":
			blockName = ""
		case "LWPOLYLINE", "POLYLINE", "LINE", "CIRCLE", "INSERT", "TEXT", "MTEXT":
			e, err := readEntity(sc, strings.ToUpper(t.value))
			if err != nil {
				return nil, err
			}
			if e.layer != "" && !layerSeen[e.layer] {
				layerSeen[e.layer] = true
				doc.layers = append(doc.layers, e.layer)
			}
			switch {
			case section == "BLOCKS" && blockName != "":
				doc.blocks[blockName] = append(doc.blocks[blockName], e)
			case section == "ENTITIES":
				doc.entities = append(doc.entities, e)
			}
		}
	}
	return doc, nil
}

// readBlockName consumes tags up to the next entity start, returning the
// block's 2-group name.
func readBlockName(sc *scanner) string {
	name := ""
	for {
		t, err := sc.next()
		if err != nil {
			return name
		}
		if t.code == 0 {
			sc.push(t)
			return name
		}
		if t.code == 2 {
			name = t.value
		}
	}
}

// readEntity consumes the tags of one entity up to the next 0 group.
func readEntity(sc *scanner, kind string) (entity, error) {
	e := entity{kind: kind, radius: 0}
	var x, y float64
	var haveX, haveY bool

	flush := func() {
		if haveX && haveY {
			e.points = append(e.points, geometry.Point2D{X: x, Y: y})
		}
		haveX, haveY = false, false
	}

	for {
		t, err := sc.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entity{}, err
		}
		if t.code == 0 {
			if kind == "POLYLINE" && strings.ToUpper(t.value) == "VERTEX" {
				continue
			}
			if kind == "POLYLINE" && strings.ToUpper(t.value) == "SEQEND" {
				flush()
				break
			}
			sc.push(t)
			break
		}

		switch t.code {
		case 8:
			e.layer = t.value
		case 10:
			flush()
			x, _ = strconv.ParseFloat(t.value, 64)
			haveX = true
		case 20:
			y, _ = strconv.ParseFloat(t.value, 64)
			haveY = true
		case 11:
			// LINE end point
			flush()
			x, _ = strconv.ParseFloat(t.value, 64)
			haveX = true
		case 21:
			y, _ = strconv.ParseFloat(t.value, 64)
			haveY = true
		case 40:
			e.radius, _ = strconv.ParseFloat(t.value, 64)
		case 70:
			if flags, err := strconv.Atoi(t.value); err == nil {
				e.closed = flags&1 != 0
			}
		case 1:
			e.text = t.value
		case 2:
			e.block = t.value
		}
	}
	flush()
	if kind == "INSERT" && len(e.points) > 0 {
		e.insert = e.points[0]
	}
	return e, nil
}

// selectLayer resolves the die layer: explicit target, then the first layer
// matching die/boundary/chip, then the default layer "0".
func selectLayer(doc *document, target string) string {
	if target != "" {
		return target
	}
	for _, name := range doc.layers {
		if dieLayerPattern.MatchString(name) {
			return name
		}
	}
	return "0"
}

// extractBoundaries turns the layer's geometric entities into die
// boundaries: polylines and line loops by bounding box, circles by their
// circumscribed square, inserts by the block's translated bounding box.
func extractBoundaries(doc *document, layer string, scale float64) []schematic.DieBoundary {
	var out []schematic.DieBoundary
	var lines []entity

	for _, e := range doc.entities {
		if e.layer != layer {
			continue
		}
		switch e.kind {
		case "LWPOLYLINE", "POLYLINE":
			if len(e.points) < 3 {
				continue
			}
			out = append(out, schematic.NewDieBoundary("", pointsBounds(e.points, scale), true))
		case "CIRCLE":
			if len(e.points) == 0 || e.radius <= 0 {
				continue
			}
			c := e.points[0]
			b := geometry.Bounds{
				XMin: (c.X - e.radius) * scale,
				YMin: (c.Y - e.radius) * scale,
				XMax: (c.X + e.radius) * scale,
				YMax: (c.Y + e.radius) * scale,
			}
			out = append(out, schematic.NewDieBoundary("", b, true))
		case "LINE":
			lines = append(lines, e)
		case "INSERT":
			if b, ok := blockBounds(doc, e.block); ok {
				tb := geometry.Bounds{
					XMin: (b.XMin + e.insert.X) * scale,
					YMin: (b.YMin + e.insert.Y) * scale,
					XMax: (b.XMax + e.insert.X) * scale,
					YMax: (b.YMax + e.insert.Y) * scale,
				}
				out = append(out, schematic.NewDieBoundary("", tb, true))
			}
		}
	}

	for _, loop := range groupLineLoops(lines) {
		out = append(out, schematic.NewDieBoundary("", pointsBounds(loop, scale), true))
	}
	return out
}

// blockBounds computes the bounding box of a block definition.
func blockBounds(doc *document, name string) (geometry.Bounds, bool) {
	ents, ok := doc.blocks[name]
	if !ok {
		return geometry.Bounds{}, false
	}
	b := geometry.NewBounds()
	for _, e := range ents {
		for _, p := range e.points {
			b = b.Expand(p)
		}
		if e.kind == "CIRCLE" && len(e.points) > 0 && e.radius > 0 {
			c := e.points[0]
			b = b.Expand(geometry.Point2D{X: c.X - e.radius, Y: c.Y - e.radius})
			b = b.Expand(geometry.Point2D{X: c.X + e.radius, Y: c.Y + e.radius})
		}
	}
	return b, b.Valid()
}

// groupLineLoops chains LINE entities sharing endpoints into closed loops.
// Endpoints are matched with a small snapping tolerance.
func groupLineLoops(lines []entity) [][]geometry.Point2D {
	const eps = 1e-6
	type seg struct {
		a, b geometry.Point2D
		used bool
	}
	segs := make([]seg, 0, len(lines))
	for _, l := range lines {
		if len(l.points) >= 2 {
			segs = append(segs, seg{a: l.points[0], b: l.points[1]})
		}
	}

	same := func(p, q geometry.Point2D) bool {
		return math.Abs(p.X-q.X) < eps && math.Abs(p.Y-q.Y) < eps
	}

	var loops [][]geometry.Point2D
	for i := range segs {
		if segs[i].used {
			continue
		}
		segs[i].used = true
		loop := []geometry.Point2D{segs[i].a, segs[i].b}
		cur := segs[i].b

		for {
			advanced := false
			for j := range segs {
				if segs[j].used {
					continue
				}
				switch {
				case same(segs[j].a, cur):
					segs[j].used = true
					cur = segs[j].b
					loop = append(loop, cur)
					advanced = true
				case same(segs[j].b, cur):
					segs[j].used = true
					cur = segs[j].a
					loop = append(loop, cur)
					advanced = true
				}
				if advanced {
					break
				}
			}
			if !advanced {
				break
			}
			if same(cur, loop[0]) {
				loops = append(loops, loop)
				break
			}
		}
	}
	return loops
}

// labelFromText assigns each TEXT/MTEXT string as the id of the nearest
// boundary on the same layer.
func labelFromText(boundaries []schematic.DieBoundary, doc *document, layer string, scale float64) {
	for _, e := range doc.entities {
		if e.layer != layer || (e.kind != "TEXT" && e.kind != "MTEXT") || e.text == "" || len(e.points) == 0 {
			continue
		}
		pos := geometry.Point2D{X: e.points[0].X * scale, Y: e.points[0].Y * scale}
		bestIdx, bestDist := -1, 0.0
		for i, b := range boundaries {
			d := geometry.Distance(pos, geometry.Point2D{X: b.CenterX, Y: b.CenterY})
			if bestIdx < 0 || d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		if bestIdx >= 0 && boundaries[bestIdx].DieID == "" {
			boundaries[bestIdx].DieID = e.text
		}
	}
}

func pointsBounds(pts []geometry.Point2D, scale float64) geometry.Bounds {
	b := geometry.NewBounds()
	for _, p := range pts {
		b = b.Expand(geometry.Point2D{X: p.X * scale, Y: p.Y * scale})
	}
	return b
}
