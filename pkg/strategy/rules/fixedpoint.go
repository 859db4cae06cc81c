package rules

import (
	"fmt"

	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// FixedPoint selects explicitly listed die coordinates. Coordinates absent
// from the wafer map are dropped; the engine reports the shortfall as a
// warning.
type FixedPoint struct{}

type fixedPointParams struct {
	Points [][2]int
}

func (r *FixedPoint) Name() string { return "fixedPoint" }

func (r *FixedPoint) Validate(params map[string]any) (any, error) {
	points, err := pointParam(params, "points")
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("fixedPoint: at least one point is required")
	}
	return fixedPointParams{Points: points}, nil
}

func (r *FixedPoint) Apply(w *wafer.Map, params any, _ strategy.ExecContext) []strategy.Candidate {
	p := params.(fixedPointParams)
	var out []strategy.Candidate
	for _, pt := range p.Points {
		if d, ok := w.Get(pt[0], pt[1]); ok && d.Available {
			out = append(out, strategy.Candidate{X: pt[0], Y: pt[1], Priority: 1.0})
		}
	}
	return out
}

func (r *FixedPoint) Estimate(w *wafer.Map) strategy.Estimate {
	return strategy.Estimate{ExpectedPointCount: w.Len(), CostClass: strategy.CostLow}
}
