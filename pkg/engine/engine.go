// Package engine executes compiled strategies against wafer maps: gating
// rules on conditions, weighting and merging candidates, applying the
// strategy transform and tool constraints, and ranking the final site
// list. Failure modes produce a well-formed empty result with warnings, so
// callers always get something renderable.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// MaxSimulationSites caps any site list after constraint clamping.
const MaxSimulationSites = 10000

// spacingWarnRatio triggers a warning when minSpacing rejects more than
// this share of candidates.
const spacingWarnRatio = 0.2

// SelectedPoint is one ranked measurement site.
type SelectedPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	RuleSource string  `json:"ruleSource"`
	Priority   float64 `json:"priority"`
	Available  bool    `json:"available"`
}

// CoverageStats summarizes a simulation's site list.
type CoverageStats struct {
	TotalDies        int              `json:"totalDies"`
	AvailableDies    int              `json:"availableDies"`
	SelectedCount    int              `json:"selectedCount"`
	CoveragePct      float64          `json:"coveragePct"`
	RuleDistribution map[string]int   `json:"ruleDistribution"`
	Centroid         geometry.Point2D `json:"centroid"`
	XRange           [2]float64       `json:"xRange"`
	YRange           [2]float64       `json:"yRange"`
}

// PerformanceMetrics reports execution cost.
type PerformanceMetrics struct {
	ExecutionMs   int64                        `json:"executionMs"`
	RuleEstimates map[string]strategy.Estimate `json:"ruleEstimates,omitempty"`
}

// SimulationResult is the full outcome of executing a strategy.
type SimulationResult struct {
	SelectedPoints     []SelectedPoint    `json:"selectedPoints"`
	CoverageStats      CoverageStats      `json:"coverageStats"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
	Warnings           []string           `json:"warnings,omitempty"`
}

// DeriveSeed produces the deterministic fallback seed for strategies that
// sample randomly without an explicit seed.
func DeriveSeed(strategyID, version string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strategyID))
	h.Write([]byte{0})
	h.Write([]byte(version))
	return int64(h.Sum64())
}

// Execute runs a compiled strategy. The only error returned is context
// cancellation; domain failure modes (no eligible rules, empty wafer,
// infeasible constraints) come back as empty results with warnings.
func Execute(ctx context.Context, compiled *strategy.Compiled, w *wafer.Map, ec strategy.ExecContext) (*SimulationResult, error) {
	start := time.Now()
	res := &SimulationResult{
		CoverageStats: CoverageStats{
			RuleDistribution: make(map[string]int),
		},
	}
	for _, cr := range compiled.Rules {
		res.CoverageStats.RuleDistribution[cr.Name] = 0
	}

	finish := func() *SimulationResult {
		res.PerformanceMetrics.ExecutionMs = time.Since(start).Milliseconds()
		return res
	}

	if w == nil || w.Len() == 0 {
		res.Warnings = append(res.Warnings, "emptyWafer: wafer map holds no dies")
		return finish(), nil
	}
	res.CoverageStats.TotalDies = w.Len()
	res.CoverageStats.AvailableDies = len(w.AvailableDies())

	if ec.ToolConstraints.MaxSites != nil && *ec.ToolConstraints.MaxSites <= 0 {
		res.Warnings = append(res.Warnings, "toolConstraintInfeasible: maxSites is 0")
		return finish(), nil
	}

	if ec.Seed == 0 {
		ec.Seed = DeriveSeed(compiled.DefinitionID, compiled.Version)
	}

	// Gate the whole strategy, then each rule, on conditions.
	if compiled.Definition != nil && !compiled.Definition.GlobalConditions.Matches(ec) {
		res.Warnings = append(res.Warnings, "noEligibleRules: global conditions do not match the execution context")
		return finish(), nil
	}
	var eligible []strategy.CompiledRule
	totalWeight := 0.0
	for _, cr := range compiled.Rules {
		if !cr.Conditions.Matches(ec) {
			continue
		}
		eligible = append(eligible, cr)
		totalWeight += cr.Weight
	}
	if len(eligible) == 0 || totalWeight <= 0 {
		res.Warnings = append(res.Warnings, "noEligibleRules: no enabled rule matches the execution context")
		return finish(), nil
	}

	// Apply rules and merge candidates, deduplicating by coordinate: the
	// maximum weighted priority wins and every contributing rule is
	// recorded.
	type merged struct {
		priority float64
		sources  map[string]bool
	}
	sites := make(map[wafer.Coord]*merged)

	for _, cr := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		est := cr.Rule.Estimate(w)
		if res.PerformanceMetrics.RuleEstimates == nil {
			res.PerformanceMetrics.RuleEstimates = make(map[string]strategy.Estimate)
		}
		res.PerformanceMetrics.RuleEstimates[cr.Name] = est

		candidates := cr.Rule.Apply(w, cr.Params, ec)
		res.CoverageStats.RuleDistribution[cr.Name] = len(candidates)

		if len(candidates) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rule %s produced no points", cr.Name))
			continue
		}
		if est.ExpectedPointCount > 0 && len(candidates) > est.ExpectedPointCount*3 {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("rule %s produced %d points, over 3x its estimate of %d",
					cr.Name, len(candidates), est.ExpectedPointCount))
		}

		for _, c := range candidates {
			final := c.Priority * cr.Weight / totalWeight
			coord := wafer.Coord{X: c.X, Y: c.Y}
			m, ok := sites[coord]
			if !ok {
				m = &merged{sources: make(map[string]bool)}
				sites[coord] = m
			}
			if final > m.priority {
				m.priority = final
			}
			m.sources[cr.Name] = true
		}
	}

	// Transform the selected coordinates and build point records.
	tr := geometry.IdentityTransform()
	if compiled.Definition != nil && compiled.Definition.Transformations != nil {
		tr = *compiled.Definition.Transformations
	}

	minX, minY, maxX, maxY, _ := w.GridBounds()
	waferBounds := geometry.Bounds{
		XMin: float64(minX), YMin: float64(minY),
		XMax: float64(maxX), YMax: float64(maxY),
	}

	points := make([]SelectedPoint, 0, len(sites))
	outOfBounds := 0
	for coord, m := range sites {
		die, _ := w.Get(coord.X, coord.Y)
		p := tr.Apply(geometry.Point2D{X: float64(coord.X), Y: float64(coord.Y)})
		if !geometry.Contains(waferBounds, p) {
			outOfBounds++
		}
		points = append(points, SelectedPoint{
			X:          p.X,
			Y:          p.Y,
			RuleSource: joinSources(m.sources),
			Priority:   m.priority,
			Available:  die.Available,
		})
	}
	if outOfBounds > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d transformed points fall outside the wafer map bounds", outOfBounds))
	}

	sortPoints(points)

	// Tool constraints: spacing first (greedy from highest priority), then
	// the site cap.
	if spacing := ec.ToolConstraints.MinSpacing; spacing > 0 {
		kept := points[:0]
		rejected := 0
		for _, p := range points {
			tooClose := false
			for _, k := range kept {
				if geometry.Distance(geometry.Point2D{X: p.X, Y: p.Y}, geometry.Point2D{X: k.X, Y: k.Y}) < spacing {
					tooClose = true
					break
				}
			}
			if tooClose {
				rejected++
				continue
			}
			kept = append(kept, p)
		}
		if total := len(kept) + rejected; total > 0 && float64(rejected) > spacingWarnRatio*float64(total) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("minSpacing rejected %d of %d candidates", rejected, total))
		}
		points = kept
	}

	limit := MaxSimulationSites
	if ec.ToolConstraints.MaxSites != nil && *ec.ToolConstraints.MaxSites < limit {
		limit = *ec.ToolConstraints.MaxSites
	}
	if len(points) > limit {
		points = points[:limit]
	}

	res.SelectedPoints = points
	computeStats(res, points)
	return finish(), nil
}

// joinSources renders the contributing rule names in stable alphabetical
// order.
func joinSources(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// sortPoints ranks by priority descending, ties broken by (ruleSource, x,
// y) ascending.
func sortPoints(points []SelectedPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.RuleSource != b.RuleSource {
			return a.RuleSource < b.RuleSource
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
}

func computeStats(res *SimulationResult, points []SelectedPoint) {
	stats := &res.CoverageStats
	stats.SelectedCount = len(points)
	if stats.AvailableDies > 0 {
		stats.CoveragePct = float64(stats.SelectedCount) / float64(stats.AvailableDies) * 100
	}
	if len(points) == 0 {
		return
	}

	var sx, sy float64
	xr := [2]float64{points[0].X, points[0].X}
	yr := [2]float64{points[0].Y, points[0].Y}
	for _, p := range points {
		sx += p.X
		sy += p.Y
		if p.X < xr[0] {
			xr[0] = p.X
		}
		if p.X > xr[1] {
			xr[1] = p.X
		}
		if p.Y < yr[0] {
			yr[0] = p.Y
		}
		if p.Y > yr[1] {
			yr[1] = p.Y
		}
	}
	stats.Centroid = geometry.Point2D{
		X: sx / float64(len(points)),
		Y: sy / float64(len(points)),
	}
	stats.XRange = xr
	stats.YRange = yr
}
