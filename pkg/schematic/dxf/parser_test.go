package dxf

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/fabworks/wafersampler/pkg/schematic"
)

func f(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// doc builds a DXF body from group code / value pairs wrapped in an
// ENTITIES section.
func doc(pairs []string) string {
	all := []string{"0", "SECTION", "2", "ENTITIES"}
	all = append(all, pairs...)
	all = append(all, "0", "ENDSEC", "0", "EOF")

	var b strings.Builder
	for i := 0; i+1 < len(all); i += 2 {
		b.WriteString(all[i] + "\n" + all[i+1] + "\n")
	}
	return b.String()
}

func lwpolyline(layer string, x, y, w, h float64) []string {
	return []string{
		"0", "LWPOLYLINE",
		"8", layer,
		"90", "4",
		"70", "1",
		"10", f(x), "20", f(y),
		"10", f(x + w), "20", f(y),
		"10", f(x + w), "20", f(y + h),
		"10", f(x), "20", f(y + h),
	}
}

func textEntity(layer, s string, x, y float64) []string {
	return []string{
		"0", "TEXT",
		"8", layer,
		"10", f(x), "20", f(y),
		"1", s,
	}
}

func circle(layer string, cx, cy, r float64) []string {
	return []string{
		"0", "CIRCLE",
		"8", layer,
		"10", f(cx), "20", f(cy),
		"40", f(r),
	}
}

// multiLayerDoc is the spec's multi-layer fixture: four labelled dies on
// DIE_BOUNDARY, noise on 0 and METAL1.
func multiLayerDoc() string {
	var pairs []string
	labels := []string{"D00", "D10", "D01", "D11"}
	i := 0
	for _, y := range []float64{0, 20} {
		for _, x := range []float64{0, 20} {
			pairs = append(pairs, lwpolyline("DIE_BOUNDARY", x, y, 10, 10)...)
			pairs = append(pairs, textEntity("DIE_BOUNDARY", labels[i], x+5, y+5)...)
			i++
		}
	}
	pairs = append(pairs, circle("0", 100, 100, 3)...)
	pairs = append(pairs, lwpolyline("METAL1", 50, 50, 2, 2)...)
	return doc(pairs)
}

func TestParseTargetLayer(t *testing.T) {
	data, err := Parse(context.Background(), strings.NewReader(multiLayerDoc()), "multi.dxf",
		schematic.ParseOptions{TargetLayer: "DIE_BOUNDARY"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data.Statistics.DieCount != 4 {
		t.Fatalf("die count = %d, want 4", data.Statistics.DieCount)
	}

	want := map[string]bool{"D00": true, "D10": true, "D01": true, "D11": true}
	for _, d := range data.Dies {
		if !want[d.DieID] {
			t.Errorf("unexpected die id %q", d.DieID)
		}
	}
}

func TestParseLayerAutoSelect(t *testing.T) {
	// No explicit layer: the name matching die/boundary/chip wins.
	data, err := Parse(context.Background(), strings.NewReader(multiLayerDoc()), "multi.dxf", schematic.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data.Statistics.DieCount != 4 {
		t.Errorf("die count = %d, want 4", data.Statistics.DieCount)
	}
}

func TestParseCircleBoundingBox(t *testing.T) {
	pairs := circle("DIE", 10, 10, 5)
	data, err := Parse(context.Background(), strings.NewReader(doc(pairs)), "c.dxf",
		schematic.ParseOptions{TargetLayer: "DIE"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := data.Dies[0]
	if d.Bounds.XMin != 5 || d.Bounds.YMin != 5 || d.Bounds.XMax != 15 || d.Bounds.YMax != 15 {
		t.Errorf("circle bounds = %+v, want circumscribed square (5,5)-(15,15)", d.Bounds)
	}
}

func TestParseLineLoop(t *testing.T) {
	pairs := []string{
		"0", "LINE", "8", "DIE", "10", "0", "20", "0", "11", "10", "21", "0",
		"0", "LINE", "8", "DIE", "10", "10", "20", "0", "11", "10", "21", "10",
		"0", "LINE", "8", "DIE", "10", "10", "20", "10", "11", "0", "21", "10",
		"0", "LINE", "8", "DIE", "10", "0", "20", "10", "11", "0", "21", "0",
	}
	data, err := Parse(context.Background(), strings.NewReader(doc(pairs)), "loop.dxf",
		schematic.ParseOptions{TargetLayer: "DIE"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data.Statistics.DieCount != 1 {
		t.Fatalf("die count = %d, want 1 closed loop", data.Statistics.DieCount)
	}
	b := data.Dies[0].Bounds
	if b.XMin != 0 || b.YMin != 0 || b.XMax != 10 || b.YMax != 10 {
		t.Errorf("loop bounds = %+v", b)
	}
}

func TestParseInsertBlock(t *testing.T) {
	var b strings.Builder
	pairs := []string{
		"0", "SECTION", "2", "BLOCKS",
		"0", "BLOCK", "2", "CELL",
	}
	pairs = append(pairs, lwpolyline("DIE", 0, 0, 8, 8)...)
	pairs = append(pairs,
		"0", "ENDBLK",
		"0", "ENDSEC",
		"0", "SECTION", "2", "ENTITIES",
		"0", "INSERT", "8", "DIE", "2", "CELL", "10", "0", "20", "0",
		"0", "INSERT", "8", "DIE", "2", "CELL", "10", "20", "20", "0",
		"0", "ENDSEC", "0", "EOF",
	)
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString(pairs[i] + "\n" + pairs[i+1] + "\n")
	}

	data, err := Parse(context.Background(), strings.NewReader(b.String()), "ins.dxf",
		schematic.ParseOptions{TargetLayer: "DIE"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data.Statistics.DieCount != 2 {
		t.Fatalf("die count = %d, want 2 block instances", data.Statistics.DieCount)
	}
}

func TestParseNoDies(t *testing.T) {
	_, err := Parse(context.Background(), strings.NewReader(doc(nil)), "empty.dxf", schematic.ParseOptions{})
	var nd *schematic.ErrNoDies
	if !errors.As(err, &nd) {
		t.Fatalf("error = %v, want ErrNoDies", err)
	}
}

func TestParseBadGroupCode(t *testing.T) {
	_, err := Parse(context.Background(), strings.NewReader("zap\nboom\n"), "bad.dxf", schematic.ParseOptions{})
	var perr *schematic.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ParseError", err)
	}
}

func TestDieSizeFilter(t *testing.T) {
	var pairs []string
	pairs = append(pairs, lwpolyline("DIE", 0, 0, 10, 10)...)  // area 100
	pairs = append(pairs, lwpolyline("DIE", 50, 0, 1, 1)...)   // area 1, filtered
	data, err := Parse(context.Background(), strings.NewReader(doc(pairs)), "f.dxf",
		schematic.ParseOptions{TargetLayer: "DIE", DieSizeFilterMin: 50, DieSizeFilterMax: 200})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data.Statistics.DieCount != 1 {
		t.Errorf("die count = %d, want 1 after size filter", data.Statistics.DieCount)
	}
}
