// Package validate checks the geometric alignment between a strategy's
// selected points and the die boundaries of a parsed schematic, producing
// an alignment score, coverage percentage, and conflict list.
package validate

import (
	"github.com/dhconnelly/rtreego"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
)

// indexedBoundary adapts a die boundary to the R-tree's spatial interface.
type indexedBoundary struct {
	idx  int
	rect rtreego.Rect
}

func (b *indexedBoundary) Bounds() rtreego.Rect { return b.rect }

// boundaryIndex answers point-in-boundary queries in O(log N) via an
// axis-aligned R-tree over the schematic's die rectangles.
type boundaryIndex struct {
	tree       *rtreego.Rtree
	boundaries []schematic.DieBoundary
}

func newBoundaryIndex(boundaries []schematic.DieBoundary) *boundaryIndex {
	tree := rtreego.NewTree(2, 4, 16)
	for i, b := range boundaries {
		w, h := b.Bounds.Width(), b.Bounds.Height()
		if w <= 0 {
			w = 1e-9
		}
		if h <= 0 {
			h = 1e-9
		}
		rect, err := rtreego.NewRect(rtreego.Point{b.Bounds.XMin, b.Bounds.YMin}, []float64{w, h})
		if err != nil {
			continue
		}
		tree.Insert(&indexedBoundary{idx: i, rect: rect})
	}
	return &boundaryIndex{tree: tree, boundaries: boundaries}
}

// locate returns the index of a boundary containing p, or -1.
func (ix *boundaryIndex) locate(p geometry.Point2D) int {
	// The probe straddles p so a point on a die's right or top edge still
	// overlaps that die's rectangle; Contains below decides membership.
	probe, err := rtreego.NewRect(rtreego.Point{p.X - 1e-9, p.Y - 1e-9}, []float64{2e-9, 2e-9})
	if err != nil {
		return -1
	}
	for _, hit := range ix.tree.SearchIntersect(probe) {
		ib := hit.(*indexedBoundary)
		if geometry.Contains(ix.boundaries[ib.idx].Bounds, p) {
			return ib.idx
		}
	}
	return -1
}
