package rules

import (
	"fmt"
	"math"

	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// UniformGrid lays a lattice over the wafer and snaps each lattice point
// to the nearest available die.
type UniformGrid struct{}

type uniformGridParams struct {
	GridSpacing float64
	OffsetX     float64
	OffsetY     float64
	Rotation    float64
}

func (r *UniformGrid) Name() string { return "uniformGrid" }

func (r *UniformGrid) Validate(params map[string]any) (any, error) {
	spacing, err := floatParam(params, "gridSpacing", 2)
	if err != nil {
		return nil, err
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("uniformGrid: gridSpacing must be > 0")
	}
	offsetX, err := floatParam(params, "offsetX", 0)
	if err != nil {
		return nil, err
	}
	offsetY, err := floatParam(params, "offsetY", 0)
	if err != nil {
		return nil, err
	}
	rotation, err := floatParam(params, "rotation", 0)
	if err != nil {
		return nil, err
	}
	if rotation < -360 || rotation > 360 {
		return nil, fmt.Errorf("uniformGrid: rotation %.3f outside [-360, 360]", rotation)
	}
	return uniformGridParams{GridSpacing: spacing, OffsetX: offsetX, OffsetY: offsetY, Rotation: rotation}, nil
}

func (r *UniformGrid) Apply(w *wafer.Map, params any, _ strategy.ExecContext) []strategy.Candidate {
	p := params.(uniformGridParams)
	avail := w.AvailableDies()
	if len(avail) == 0 {
		return nil
	}

	minX, minY, maxX, maxY, _ := w.GridBounds()
	span := math.Hypot(float64(maxX-minX), float64(maxY-minY))

	sin, cos := 0.0, 1.0
	if p.Rotation != 0 {
		rad := p.Rotation * math.Pi / 180
		sin, cos = math.Sin(rad), math.Cos(rad)
	}

	// Walk lattice indices wide enough to cover the rotated grid extent.
	steps := int(span/p.GridSpacing) + 1

	best := make(map[wafer.Coord]float64)
	for i := -steps; i <= steps; i++ {
		for j := -steps; j <= steps; j++ {
			lx := p.OffsetX + float64(i)*p.GridSpacing
			ly := p.OffsetY + float64(j)*p.GridSpacing
			x := lx*cos - ly*sin
			y := lx*sin + ly*cos
			if x < float64(minX)-p.GridSpacing || x > float64(maxX)+p.GridSpacing ||
				y < float64(minY)-p.GridSpacing || y > float64(maxY)+p.GridSpacing {
				continue
			}

			// Snap to the nearest available die.
			bestDist := math.Inf(1)
			var bestDie wafer.Die
			for _, d := range avail {
				dist := math.Hypot(float64(d.X)-x, float64(d.Y)-y)
				if dist < bestDist {
					bestDist = dist
					bestDie = d
				}
			}
			prio := 1 - bestDist/p.GridSpacing
			if prio < 0 {
				continue
			}
			if prio > 1 {
				prio = 1
			}
			c := wafer.Coord{X: bestDie.X, Y: bestDie.Y}
			if prio > best[c] {
				best[c] = prio
			}
		}
	}

	out := make([]strategy.Candidate, 0, len(best))
	// Emit in deterministic die order.
	for _, d := range avail {
		c := wafer.Coord{X: d.X, Y: d.Y}
		if prio, ok := best[c]; ok {
			out = append(out, strategy.Candidate{X: d.X, Y: d.Y, Priority: prio})
		}
	}
	return out
}

func (r *UniformGrid) Estimate(w *wafer.Map) strategy.Estimate {
	cost := strategy.CostMedium
	if w.Len() > 10000 {
		cost = strategy.CostHigh
	}
	return strategy.Estimate{ExpectedPointCount: w.Len() / 2, CostClass: cost}
}
