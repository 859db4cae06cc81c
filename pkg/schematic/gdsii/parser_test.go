package gdsii

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
)

// streamBuilder assembles a minimal GDSII byte stream for tests.
type streamBuilder struct {
	buf bytes.Buffer
}

func (b *streamBuilder) rec(recType, dataType byte, payload []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[:2], uint16(len(payload)+4))
	hdr[2] = recType
	hdr[3] = dataType
	b.buf.Write(hdr[:])
	b.buf.Write(payload)
}

func (b *streamBuilder) int16s(vals ...int16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.BigEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func (b *streamBuilder) int32s(vals ...int32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.BigEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func (b *streamBuilder) str(s string) []byte {
	if len(s)%2 == 1 {
		return append([]byte(s), 0)
	}
	return []byte(s)
}

func encodeReal64(v float64) []byte {
	out := make([]byte, 8)
	if v == 0 {
		return out
	}
	sign := byte(0)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	exp := 64
	for v >= 1 {
		v /= 16
		exp++
	}
	for v < 1.0/16 {
		v *= 16
		exp--
	}
	mantissa := uint64(v * float64(uint64(1)<<56))
	out[0] = sign | byte(exp)
	for i := 7; i >= 1; i-- {
		out[i] = byte(mantissa)
		mantissa >>= 8
	}
	return out
}

func (b *streamBuilder) header(libName string) {
	b.rec(recHeader, 2, b.int16s(600))
	b.rec(recBgnLib, 2, b.int16s(2024, 1, 1, 0, 0, 0, 2024, 1, 1, 0, 0, 0))
	b.rec(recLibName, 6, b.str(libName))
	units := append(encodeReal64(0.001), encodeReal64(1e-6)...)
	b.rec(recUnits, 5, units)
}

func (b *streamBuilder) boundary(layer int16, x0, y0, x1, y1 int32) {
	b.rec(recBoundary, 0, nil)
	b.rec(recLayer, 2, b.int16s(layer))
	b.rec(recDatatype, 2, b.int16s(0))
	b.rec(recXY, 3, b.int32s(x0, y0, x1, y0, x1, y1, x0, y1, x0, y0))
	b.rec(recEndEl, 0, nil)
}

func (b *streamBuilder) text(layer int16, x, y int32, s string) {
	b.rec(recText, 0, nil)
	b.rec(recLayer, 2, b.int16s(layer))
	b.rec(recTextType, 2, b.int16s(0))
	b.rec(recXY, 3, b.int32s(x, y))
	b.rec(recString, 6, b.str(s))
	b.rec(recEndEl, 0, nil)
}

func buildGrid(t *testing.T) []byte {
	t.Helper()
	var b streamBuilder
	b.header("TESTLIB")
	b.rec(recBgnStr, 2, b.int16s(2024, 1, 1, 0, 0, 0, 2024, 1, 1, 0, 0, 0))
	b.rec(recStrName, 6, b.str("TOP"))
	for row := int32(0); row < 3; row++ {
		for col := int32(0); col < 3; col++ {
			x := col * 100
			y := row * 100
			b.boundary(1, x, y, x+80, y+80)
		}
	}
	b.text(63, 40, 40, "A1")
	b.rec(recEndStr, 0, nil)
	b.rec(recEndLib, 0, nil)
	return b.buf.Bytes()
}

func TestParseGrid(t *testing.T) {
	data, err := Parse(context.Background(), bytes.NewReader(buildGrid(t)), "grid.gds", schematic.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if data.FormatType != schematic.FormatGDSII {
		t.Errorf("format = %s, want gdsii", data.FormatType)
	}
	if data.CoordinateSystem != geometry.GDSIIUnits {
		t.Errorf("coordinate system = %s", data.CoordinateSystem)
	}
	if data.Statistics.DieCount != 9 {
		t.Fatalf("die count = %d, want 9", data.Statistics.DieCount)
	}
	for _, d := range data.Dies {
		if !d.Available {
			t.Errorf("die %s not available", d.DieID)
		}
		if !geometry.Contains(data.LayoutBounds, geometry.Point2D{X: d.CenterX, Y: d.CenterY}) {
			t.Errorf("layout bounds do not contain die %s", d.DieID)
		}
	}
}

func TestParseTextLabel(t *testing.T) {
	data, err := Parse(context.Background(), bytes.NewReader(buildGrid(t)), "grid.gds", schematic.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	found := false
	for _, d := range data.Dies {
		if d.DieID == "A1" {
			found = true
			// Label sits at (40, 40), the center of the first die.
			if math.Abs(d.CenterX-40) > 1e-6 || math.Abs(d.CenterY-40) > 1e-6 {
				t.Errorf("labelled die at (%g, %g), want (40, 40)", d.CenterX, d.CenterY)
			}
		}
	}
	if !found {
		t.Error("TEXT label A1 not assigned to any die")
	}
}

func TestParseUnitsScale(t *testing.T) {
	data, err := Parse(context.Background(), bytes.NewReader(buildGrid(t)), "grid.gds", schematic.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// metersPerDB = 1e-6 means one database unit is one micrometer.
	if math.Abs(data.Metadata.ScaleFactor-1.0) > 1e-9 {
		t.Errorf("scale factor = %g, want 1.0", data.Metadata.ScaleFactor)
	}
}

func TestParseSRefFallback(t *testing.T) {
	var b streamBuilder
	b.header("REFLIB")

	// Child cell with geometry.
	b.rec(recBgnStr, 2, b.int16s(2024, 1, 1, 0, 0, 0, 2024, 1, 1, 0, 0, 0))
	b.rec(recStrName, 6, b.str("DIE"))
	b.boundary(1, 0, 0, 50, 50)
	b.rec(recEndStr, 0, nil)

	// Top cell holding only references.
	b.rec(recBgnStr, 2, b.int16s(2024, 1, 1, 0, 0, 0, 2024, 1, 1, 0, 0, 0))
	b.rec(recStrName, 6, b.str("TOP"))
	for i := int32(0); i < 4; i++ {
		b.rec(recSRef, 0, nil)
		b.rec(recSName, 6, b.str("DIE"))
		b.rec(recXY, 3, b.int32s(i*100, 0))
		b.rec(recEndEl, 0, nil)
	}
	b.rec(recEndStr, 0, nil)
	b.rec(recEndLib, 0, nil)

	data, err := Parse(context.Background(), bytes.NewReader(b.buf.Bytes()), "ref.gds", schematic.ParseOptions{TargetCell: "TOP"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if data.Statistics.DieCount != 4 {
		t.Fatalf("die count = %d, want 4", data.Statistics.DieCount)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(context.Background(), bytes.NewReader([]byte{0x00, 0x01}), "bad.gds", schematic.ParseOptions{})
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	var perr *schematic.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error %T is not a ParseError", err)
	}
}

func TestParseNoDies(t *testing.T) {
	var b streamBuilder
	b.header("EMPTY")
	b.rec(recBgnStr, 2, b.int16s(2024, 1, 1, 0, 0, 0, 2024, 1, 1, 0, 0, 0))
	b.rec(recStrName, 6, b.str("TOP"))
	b.rec(recEndStr, 0, nil)
	b.rec(recEndLib, 0, nil)

	_, err := Parse(context.Background(), bytes.NewReader(b.buf.Bytes()), "empty.gds", schematic.ParseOptions{})
	var nd *schematic.ErrNoDies
	if !errors.As(err, &nd) {
		t.Fatalf("error = %v, want ErrNoDies", err)
	}
}

func TestParseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Parse(ctx, bytes.NewReader(buildGrid(t)), "grid.gds", schematic.ParseOptions{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestDecodeReal64(t *testing.T) {
	for _, v := range []float64{1e-9, 1e-6, 0.001, 1, 2.5, -3.75} {
		got := decodeReal64(encodeReal64(v))
		if math.Abs(got-v) > math.Abs(v)*1e-12 {
			t.Errorf("decode(encode(%g)) = %g", v, got)
		}
	}
}
