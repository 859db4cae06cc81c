package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// CenterEdge samples the wafer center and a ring near its edge, the
// classic pattern for radial process variation.
type CenterEdge struct{}

type centerEdgeParams struct {
	CenterCount int
	EdgeCount   int
	EdgeMargin  float64
}

func (r *CenterEdge) Name() string { return "centerEdge" }

func (r *CenterEdge) Validate(params map[string]any) (any, error) {
	centerCount, err := intParam(params, "centerCount", 1)
	if err != nil {
		return nil, err
	}
	edgeCount, err := intParam(params, "edgeCount", 4)
	if err != nil {
		return nil, err
	}
	edgeMargin, err := floatParam(params, "edgeMargin", 1)
	if err != nil {
		return nil, err
	}
	if centerCount < 0 || edgeCount < 0 {
		return nil, fmt.Errorf("centerEdge: counts must be >= 0")
	}
	if centerCount == 0 && edgeCount == 0 {
		return nil, fmt.Errorf("centerEdge: centerCount and edgeCount are both zero")
	}
	if edgeMargin < 0 {
		return nil, fmt.Errorf("centerEdge: edgeMargin must be >= 0")
	}
	return centerEdgeParams{CenterCount: centerCount, EdgeCount: edgeCount, EdgeMargin: edgeMargin}, nil
}

func (r *CenterEdge) Apply(w *wafer.Map, params any, _ strategy.ExecContext) []strategy.Candidate {
	p := params.(centerEdgeParams)
	avail := w.AvailableDies()
	if len(avail) == 0 {
		return nil
	}

	// Geometric centroid of the available dies.
	var cx, cy float64
	for _, d := range avail {
		cx += float64(d.X)
		cy += float64(d.Y)
	}
	cx /= float64(len(avail))
	cy /= float64(len(avail))

	type scored struct {
		die  wafer.Die
		dist float64
	}

	byCenter := make([]scored, len(avail))
	for i, d := range avail {
		byCenter[i] = scored{die: d, dist: math.Hypot(float64(d.X)-cx, float64(d.Y)-cy)}
	}
	sort.SliceStable(byCenter, func(i, j int) bool {
		if byCenter[i].dist != byCenter[j].dist {
			return byCenter[i].dist < byCenter[j].dist
		}
		if byCenter[i].die.Y != byCenter[j].die.Y {
			return byCenter[i].die.Y < byCenter[j].die.Y
		}
		return byCenter[i].die.X < byCenter[j].die.X
	})

	var out []strategy.Candidate
	taken := make(map[wafer.Coord]bool)

	n := p.CenterCount
	if n > len(byCenter) {
		n = len(byCenter)
	}
	for i := 0; i < n; i++ {
		d := byCenter[i].die
		// Priority decreases linearly across the center picks.
		prio := 1.0
		if n > 1 {
			prio = 1.0 - 0.5*float64(i)/float64(n-1)
		}
		out = append(out, strategy.Candidate{X: d.X, Y: d.Y, Priority: prio})
		taken[wafer.Coord{X: d.X, Y: d.Y}] = true
	}

	if p.EdgeCount == 0 {
		return out
	}

	// Distance from the hull inset by the edge margin: dies sitting right
	// on that ring score best.
	minX, minY, maxX, maxY, _ := w.GridBounds()
	ringDist := func(d wafer.Die) float64 {
		edge := math.Min(
			math.Min(float64(d.X-minX), float64(maxX-d.X)),
			math.Min(float64(d.Y-minY), float64(maxY-d.Y)),
		)
		return math.Abs(edge - p.EdgeMargin)
	}

	var byRing []scored
	for _, d := range avail {
		if taken[wafer.Coord{X: d.X, Y: d.Y}] {
			continue
		}
		byRing = append(byRing, scored{die: d, dist: ringDist(d)})
	}
	sort.SliceStable(byRing, func(i, j int) bool {
		if byRing[i].dist != byRing[j].dist {
			return byRing[i].dist < byRing[j].dist
		}
		if byRing[i].die.Y != byRing[j].die.Y {
			return byRing[i].die.Y < byRing[j].die.Y
		}
		return byRing[i].die.X < byRing[j].die.X
	})

	n = p.EdgeCount
	if n > len(byRing) {
		n = len(byRing)
	}
	maxDist := 0.0
	for i := 0; i < n; i++ {
		if byRing[i].dist > maxDist {
			maxDist = byRing[i].dist
		}
	}
	for i := 0; i < n; i++ {
		prio := 0.8
		if maxDist > 0 {
			prio = 0.8 * (1 - byRing[i].dist/(maxDist+1))
		}
		d := byRing[i].die
		out = append(out, strategy.Candidate{X: d.X, Y: d.Y, Priority: prio})
	}
	return out
}

func (r *CenterEdge) Estimate(w *wafer.Map) strategy.Estimate {
	return strategy.Estimate{ExpectedPointCount: 8, CostClass: strategy.CostLow}
}
