package schematic

import (
	"testing"

	"github.com/fabworks/wafersampler/pkg/geometry"
)

func box(x, y, w, h float64) geometry.Bounds {
	return geometry.Bounds{XMin: x, YMin: y, XMax: x + w, YMax: y + h}
}

func TestProcessBoundariesMergesDuplicates(t *testing.T) {
	in := []DieBoundary{
		NewDieBoundary("", box(0, 0, 10, 10), true),
		NewDieBoundary("", box(0.1, 0.1, 10, 10), true), // near-identical, merged
		NewDieBoundary("", box(20, 0, 10, 10), true),
	}
	out := ProcessBoundaries(in, ParseOptions{})
	if len(out) != 2 {
		t.Fatalf("got %d boundaries, want 2 after merge", len(out))
	}
}

func TestProcessBoundariesRowMajorIDs(t *testing.T) {
	in := []DieBoundary{
		NewDieBoundary("", box(20, 20, 10, 10), true),
		NewDieBoundary("", box(0, 0, 10, 10), true),
		NewDieBoundary("", box(20, 0, 10, 10), true),
	}
	out := ProcessBoundaries(in, ParseOptions{})
	if len(out) != 3 {
		t.Fatalf("got %d boundaries", len(out))
	}
	// Row-major: (0,0), (20,0), (20,20).
	if out[0].CenterX != 5 || out[0].CenterY != 5 {
		t.Errorf("first boundary at (%g,%g), want (5,5)", out[0].CenterX, out[0].CenterY)
	}
	for i, want := range []string{"die_001", "die_002", "die_003"} {
		if out[i].DieID != want {
			t.Errorf("id[%d] = %s, want %s", i, out[i].DieID, want)
		}
	}
}

func TestProcessBoundariesKeepsLabels(t *testing.T) {
	in := []DieBoundary{
		NewDieBoundary("corner", box(0, 0, 10, 10), true),
		NewDieBoundary("", box(20, 0, 10, 10), true),
	}
	out := ProcessBoundaries(in, ParseOptions{})
	if out[0].DieID != "corner" {
		t.Errorf("labelled id replaced: %s", out[0].DieID)
	}
	if out[1].DieID != "die_002" {
		t.Errorf("unlabelled id = %s, want die_002", out[1].DieID)
	}
}

func TestFinalizeStatistics(t *testing.T) {
	d := &Data{
		Dies: []DieBoundary{
			NewDieBoundary("a", box(0, 0, 10, 10), true),
			NewDieBoundary("b", box(20, 0, 10, 10), false),
		},
	}
	d.Finalize()
	if d.Statistics.DieCount != 2 || d.Statistics.AvailableDieCount != 1 {
		t.Errorf("statistics = %+v", d.Statistics)
	}
	if d.LayoutBounds.XMax != 30 {
		t.Errorf("layout bounds = %+v", d.LayoutBounds)
	}
	if d.Statistics.MedianDieWidth != 10 {
		t.Errorf("median width = %g", d.Statistics.MedianDieWidth)
	}
}

func TestEstimateWaferSize(t *testing.T) {
	small := []DieBoundary{NewDieBoundary("a", box(0, 0, 1000, 1000), true)}
	if got := EstimateWaferSize(small); got != "100mm" {
		t.Errorf("small layout = %s, want 100mm", got)
	}
	large := []DieBoundary{
		NewDieBoundary("a", box(0, 0, 1000, 1000), true),
		NewDieBoundary("b", box(170000, 0, 1000, 1000), true),
	}
	if got := EstimateWaferSize(large); got != "300mm" {
		t.Errorf("large layout = %s, want 300mm", got)
	}
	if got := EstimateWaferSize(nil); got != "" {
		t.Errorf("empty layout = %s, want empty", got)
	}
}
