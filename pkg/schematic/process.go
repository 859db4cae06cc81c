package schematic

import (
	"fmt"
	"sort"

	"github.com/fabworks/wafersampler/pkg/geometry"
)

// mergeThresholdRatio sets the duplicate-merge distance as a fraction of the
// median die width.
const mergeThresholdRatio = 0.1

// ProcessBoundaries applies the shared post-parse pipeline: size filtering,
// duplicate merging by center distance, row-major ordering, and stable die
// id reassignment. Boundaries with labelled ids keep them; unlabelled ones
// get die_NNN in traversal order.
func ProcessBoundaries(boundaries []DieBoundary, opts ParseOptions) []DieBoundary {
	if opts.DieSizeFilterMax > 0 {
		kept := boundaries[:0]
		for _, b := range boundaries {
			if b.Area >= opts.DieSizeFilterMin && b.Area <= opts.DieSizeFilterMax {
				kept = append(kept, b)
			}
		}
		boundaries = kept
	}
	if len(boundaries) == 0 {
		return boundaries
	}

	threshold := medianOf(boundaries, func(b DieBoundary) float64 { return b.Width }) * mergeThresholdRatio

	var unique []DieBoundary
	for _, b := range boundaries {
		dup := false
		for _, u := range unique {
			d := geometry.Distance(
				geometry.Point2D{X: b.CenterX, Y: b.CenterY},
				geometry.Point2D{X: u.CenterX, Y: u.CenterY},
			)
			if d < threshold {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, b)
		}
	}

	// Row-major: by center Y, then center X.
	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].CenterY != unique[j].CenterY {
			return unique[i].CenterY < unique[j].CenterY
		}
		return unique[i].CenterX < unique[j].CenterX
	})

	for i := range unique {
		if unique[i].DieID == "" {
			unique[i].DieID = fmt.Sprintf("die_%03d", i+1)
		}
	}
	return unique
}

// EstimateWaferSize guesses the wafer size label from the layout diameter.
// The thresholds assume micrometer-scale layout coordinates.
func EstimateWaferSize(boundaries []DieBoundary) string {
	if len(boundaries) == 0 {
		return ""
	}
	bl := make([]geometry.Bounds, 0, len(boundaries))
	for _, b := range boundaries {
		bl = append(bl, b.Bounds)
	}
	layout := geometry.Enclosing(bl)
	diameter := layout.Width()
	if layout.Height() > diameter {
		diameter = layout.Height()
	}

	switch {
	case diameter < 50000:
		return "100mm"
	case diameter < 100000:
		return "150mm"
	case diameter < 150000:
		return "200mm"
	case diameter < 200000:
		return "300mm"
	default:
		return "450mm"
	}
}

func medianOf(boundaries []DieBoundary, f func(DieBoundary) float64) float64 {
	if len(boundaries) == 0 {
		return 0
	}
	vals := make([]float64, len(boundaries))
	for i, b := range boundaries {
		vals[i] = f(b)
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
