package gdsii

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
)

// structure is the retained summary of one GDSII structure (cell). Only
// bounding boxes and labels survive; raw geometry is dropped as it streams
// past.
type structure struct {
	name       string
	boundaries []layerBox
	texts      []textLabel
	srefs      []sref
}

type layerBox struct {
	layer  int
	bounds geometry.Bounds
}

type textLabel struct {
	text  string
	pos   geometry.Point2D
	layer int
}

type sref struct {
	sname  string
	origin geometry.Point2D
}

// library is the streamed-in file summary.
type library struct {
	name        string
	userUnit    float64 // size of a database unit in user units
	metersPerDB float64 // size of a database unit in meters
	structs     []*structure
	byName      map[string]*structure
}

// Parse decodes a GDSII stream and extracts die boundaries using shape
// analysis first, then text labels for ids, then structure-reference
// arrays as a fallback. Coordinates come out in micrometers scaled by the
// units record and any caller-supplied coordinate scale.
func Parse(ctx context.Context, r io.Reader, filename string, opts schematic.ParseOptions) (*schematic.Data, error) {
	lib, err := scan(ctx, r)
	if err != nil {
		return nil, err
	}

	target := lib.targetStructure(opts.TargetCell)
	if target == nil {
		return nil, &schematic.ParseError{
			Format: schematic.FormatGDSII,
			Reason: fmt.Sprintf("target cell %q not found", opts.TargetCell),
		}
	}

	scale := lib.coordScale() * opts.Scale()

	boundaries := extractFromShapes(target, scale, opts.TargetLayer)
	labelBoundaries(boundaries, target.texts, scale)
	if len(boundaries) == 0 {
		boundaries = extractFromRefs(lib, target, scale)
	}

	boundaries = schematic.ProcessBoundaries(boundaries, opts)
	if len(boundaries) == 0 {
		return nil, &schematic.ErrNoDies{Format: schematic.FormatGDSII}
	}

	data := &schematic.Data{
		Filename:         filename,
		FormatType:       schematic.FormatGDSII,
		UploadDate:       time.Now().UTC(),
		CoordinateSystem: geometry.GDSIIUnits,
		Dies:             boundaries,
		Metadata: schematic.Metadata{
			SoftwareInfo: "GDSII Stream Format",
			Units:        fmt.Sprintf("%g user units, %g m database unit", lib.userUnit, lib.metersPerDB),
			ScaleFactor:  scale,
		},
	}
	data.WaferSize = schematic.EstimateWaferSize(boundaries)
	data.Finalize()
	return data, nil
}

// scan streams every record once, building per-structure summaries.
func scan(ctx context.Context, r io.Reader) (*library, error) {
	rd := newReader(r)
	lib := &library{userUnit: 1, metersPerDB: 1e-9, byName: make(map[string]*structure)}

	var (
		cur  *structure
		elem elementState
	)

	sawHeader := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := rd.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if !sawHeader {
			if rec.Type != recHeader {
				return nil, rd.errorf("missing HEADER record (got type 0x%02X)", rec.Type)
			}
			sawHeader = true
			continue
		}

		switch rec.Type {
		case recUnits:
			reals := rec.real64s()
			if len(reals) != 2 {
				return nil, rd.errorf("UNITS record holds %d reals, want 2", len(reals))
			}
			lib.userUnit, lib.metersPerDB = reals[0], reals[1]
		case recLibName:
			lib.name = rec.str()
		case recBgnStr:
			cur = &structure{}
		case recStrName:
			if cur != nil {
				cur.name = rec.str()
			}
		case recEndStr:
			if cur != nil && cur.name != "" {
				lib.structs = append(lib.structs, cur)
				lib.byName[cur.name] = cur
			}
			cur = nil
		case recBoundary, recPath, recSRef, recARef, recText:
			elem = elementState{kind: rec.Type, layer: -1}
		case recLayer:
			if vals := rec.int16s(); len(vals) > 0 {
				elem.layer = int(vals[0])
			}
		case recSName:
			elem.sname = rec.str()
		case recString:
			elem.text = rec.str()
		case recXY:
			elem.xy = rec.int32s()
		case recEndEl:
			if cur != nil {
				elem.commit(cur)
			}
			elem = elementState{}
		case recEndLib:
			return lib, nil
		}
	}
	if len(lib.structs) == 0 {
		return nil, rd.errorf("no structures before end of stream")
	}
	return lib, nil
}

// elementState accumulates the records of the element currently being
// decoded, between its opening record and ENDEL.
type elementState struct {
	kind  byte
	layer int
	sname string
	text  string
	xy    []int32
}

func (e elementState) commit(s *structure) {
	switch e.kind {
	case recBoundary, recPath:
		if len(e.xy) < 4 {
			return
		}
		b := geometry.NewBounds()
		for i := 0; i+1 < len(e.xy); i += 2 {
			b = b.Expand(geometry.Point2D{X: float64(e.xy[i]), Y: float64(e.xy[i+1])})
		}
		s.boundaries = append(s.boundaries, layerBox{layer: e.layer, bounds: b})
	case recText:
		if e.text == "" || len(e.xy) < 2 {
			return
		}
		s.texts = append(s.texts, textLabel{
			text:  e.text,
			pos:   geometry.Point2D{X: float64(e.xy[0]), Y: float64(e.xy[1])},
			layer: e.layer,
		})
	case recSRef, recARef:
		if e.sname == "" || len(e.xy) < 2 {
			return
		}
		s.srefs = append(s.srefs, sref{
			sname:  e.sname,
			origin: geometry.Point2D{X: float64(e.xy[0]), Y: float64(e.xy[1])},
		})
	}
}

// coordScale converts database units to micrometers.
func (l *library) coordScale() float64 {
	if l.metersPerDB <= 0 {
		return 1
	}
	return l.metersPerDB * 1e6
}

// targetStructure resolves the cell to process: the named cell, or the top
// cell (one not referenced by any other structure).
func (l *library) targetStructure(name string) *structure {
	if name != "" {
		return l.byName[name]
	}
	referenced := make(map[string]bool)
	for _, s := range l.structs {
		for _, ref := range s.srefs {
			referenced[ref.sname] = true
		}
	}
	for _, s := range l.structs {
		if !referenced[s.name] {
			return s
		}
	}
	if len(l.structs) > 0 {
		return l.structs[0]
	}
	return nil
}

// extractFromShapes produces a boundary per closed polygon on the target
// layer. With no explicit layer, the layer carrying the most shapes of
// similar size wins; similar means within 10% of that layer's median area.
func extractFromShapes(s *structure, scale float64, targetLayer string) []schematic.DieBoundary {
	layer := -1
	if targetLayer != "" {
		n, err := strconv.Atoi(targetLayer)
		if err != nil {
			return nil
		}
		layer = n
	} else {
		layer = dominantLayer(s.boundaries)
	}
	if layer < 0 {
		return nil
	}

	var out []schematic.DieBoundary
	for _, lb := range s.boundaries {
		if lb.layer != layer {
			continue
		}
		out = append(out, schematic.NewDieBoundary("", scaleBounds(lb.bounds, scale), true))
	}
	return out
}

// dominantLayer picks the layer with the most similar-size closed shapes.
func dominantLayer(boxes []layerBox) int {
	areasByLayer := make(map[int][]float64)
	for _, lb := range boxes {
		areasByLayer[lb.layer] = append(areasByLayer[lb.layer], lb.bounds.Area())
	}

	best, bestCount := -1, 0
	for layer, areas := range areasByLayer {
		med := medianFloat(areas)
		count := 0
		for _, a := range areas {
			if med > 0 && a >= med*0.9 && a <= med*1.1 {
				count++
			}
		}
		if count > bestCount || (count == bestCount && best >= 0 && layer < best) {
			best, bestCount = layer, count
		}
	}
	return best
}

// labelBoundaries assigns each TEXT record's string as the die id of the
// nearest boundary. Unlabelled boundaries are numbered later during
// post-processing.
func labelBoundaries(boundaries []schematic.DieBoundary, texts []textLabel, scale float64) {
	for _, t := range texts {
		pos := geometry.Point2D{X: t.pos.X * scale, Y: t.pos.Y * scale}
		bestIdx, bestDist := -1, 0.0
		for i, b := range boundaries {
			d := geometry.Distance(pos, geometry.Point2D{X: b.CenterX, Y: b.CenterY})
			if bestIdx < 0 || d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		if bestIdx >= 0 && boundaries[bestIdx].DieID == "" {
			boundaries[bestIdx].DieID = t.text
		}
	}
}

// extractFromRefs turns SREF instances in the target cell into dies, using
// the referenced cell's own bounding box translated by the instance origin.
func extractFromRefs(lib *library, target *structure, scale float64) []schematic.DieBoundary {
	var out []schematic.DieBoundary
	for _, ref := range target.srefs {
		child := lib.byName[ref.sname]
		if child == nil || len(child.boundaries) == 0 {
			continue
		}
		bb := geometry.NewBounds()
		for _, lb := range child.boundaries {
			bb = bb.ExpandBounds(lb.bounds)
		}
		translated := geometry.Bounds{
			XMin: (bb.XMin + ref.origin.X) * scale,
			YMin: (bb.YMin + ref.origin.Y) * scale,
			XMax: (bb.XMax + ref.origin.X) * scale,
			YMax: (bb.YMax + ref.origin.Y) * scale,
		}
		out = append(out, schematic.NewDieBoundary("", translated, true))
	}
	return out
}

func scaleBounds(b geometry.Bounds, scale float64) geometry.Bounds {
	return geometry.Bounds{
		XMin: b.XMin * scale,
		YMin: b.YMin * scale,
		XMax: b.XMax * scale,
		YMax: b.YMax * scale,
	}
}

func medianFloat(vals []float64) float64 {
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
