package rules

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// RandomSampling draws dies without replacement using a deterministic
// PRNG. The seed comes from the parameters, falling back to the execution
// context's seed so results stay reproducible per strategy version.
type RandomSampling struct{}

type randomSamplingParams struct {
	Count int
	Seed  int64
	// seedSet distinguishes an explicit zero seed from an absent one.
	seedSet bool
}

func (r *RandomSampling) Name() string { return "randomSampling" }

func (r *RandomSampling) Validate(params map[string]any) (any, error) {
	count, err := intParam(params, "count", 10)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("randomSampling: count must be > 0")
	}
	p := randomSamplingParams{Count: count}
	if _, ok := params["seed"]; ok {
		seed, err := intParam(params, "seed", 0)
		if err != nil {
			return nil, err
		}
		p.Seed = int64(seed)
		p.seedSet = true
	}
	return p, nil
}

func (r *RandomSampling) Apply(w *wafer.Map, params any, ctx strategy.ExecContext) []strategy.Candidate {
	p := params.(randomSamplingParams)
	avail := w.AvailableDies()
	if len(avail) == 0 {
		return nil
	}

	// Stable candidate order before shuffling, so the draw depends only on
	// the seed, not on map insertion order.
	sort.SliceStable(avail, func(i, j int) bool {
		if avail[i].Y != avail[j].Y {
			return avail[i].Y < avail[j].Y
		}
		return avail[i].X < avail[j].X
	})

	seed := ctx.Seed
	if p.seedSet {
		seed = p.Seed
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(avail), func(i, j int) {
		avail[i], avail[j] = avail[j], avail[i]
	})

	n := p.Count
	if n > len(avail) {
		n = len(avail)
	}
	out := make([]strategy.Candidate, 0, n)
	for _, d := range avail[:n] {
		out = append(out, strategy.Candidate{X: d.X, Y: d.Y, Priority: 0.5})
	}
	return out
}

func (r *RandomSampling) Estimate(w *wafer.Map) strategy.Estimate {
	return strategy.Estimate{ExpectedPointCount: 10, CostClass: strategy.CostLow}
}
