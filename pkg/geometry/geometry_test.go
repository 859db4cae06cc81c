package geometry

import (
	"math"
	"testing"
)

func TestBoundsExpand(t *testing.T) {
	b := NewBounds()
	if b.Valid() {
		t.Fatal("empty bounds should not be valid")
	}

	b = b.Expand(Point2D{X: 1, Y: 2})
	b = b.Expand(Point2D{X: -3, Y: 7})

	if !b.Valid() {
		t.Fatal("bounds should be valid after expansion")
	}
	if b.XMin != -3 || b.XMax != 1 || b.YMin != 2 || b.YMax != 7 {
		t.Errorf("unexpected bounds: %+v", b)
	}
	if b.Width() != 4 || b.Height() != 5 {
		t.Errorf("width/height = %v/%v, want 4/5", b.Width(), b.Height())
	}
}

func TestEnclosing(t *testing.T) {
	list := []Bounds{
		{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		{XMin: 20, YMin: -5, XMax: 30, YMax: 5},
	}
	enc := Enclosing(list)
	if enc.XMin != 0 || enc.YMin != -5 || enc.XMax != 30 || enc.YMax != 10 {
		t.Errorf("unexpected enclosing bounds: %+v", enc)
	}
	for _, b := range list {
		if !Contains(enc, Point2D{X: b.XMin, Y: b.YMin}) || !Contains(enc, Point2D{X: b.XMax, Y: b.YMax}) {
			t.Errorf("enclosing bounds %+v does not contain %+v", enc, b)
		}
	}

	if got := Enclosing(nil); got != (Bounds{}) {
		t.Errorf("Enclosing(nil) = %+v, want zero bounds", got)
	}
}

func TestContainsEdges(t *testing.T) {
	b := Bounds{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
	cases := []struct {
		p    Point2D
		want bool
	}{
		{Point2D{0, 0}, true},
		{Point2D{10, 10}, true},
		{Point2D{5, 5}, true},
		{Point2D{-0.001, 5}, false},
		{Point2D{5, 10.001}, false},
	}
	for _, c := range cases {
		if got := Contains(b, c.p); got != c.want {
			t.Errorf("Contains(%+v) = %v, want %v", c.p, got, c.want)
		}
	}
}

func TestDistance(t *testing.T) {
	d := Distance(Point2D{0, 0}, Point2D{3, 4})
	if math.Abs(d-5) > 1e-12 {
		t.Errorf("Distance = %v, want 5", d)
	}
}
