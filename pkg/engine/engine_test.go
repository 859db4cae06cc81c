package engine

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/strategy/rules"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

func registry() *strategy.RuleRegistry {
	reg := strategy.NewRuleRegistry()
	rules.Register(reg)
	return reg
}

func grid(t *testing.T, w, h int) *wafer.Map {
	t.Helper()
	m := wafer.NewMap()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if err := m.Add(wafer.Die{X: x, Y: y, Available: true}); err != nil {
				t.Fatal(err)
			}
		}
	}
	return m
}

// multiRule is the spec's three-rule fixture: fixedPoint + centerEdge +
// uniformGrid with weights summing to 1.
func multiRule(t *testing.T) *strategy.Compiled {
	t.Helper()
	def := &strategy.Definition{
		ID:           "multi",
		Name:         "multi-rule",
		StrategyType: strategy.TypeCustom,
		Version:      "1.0.0",
		Rules: []strategy.RuleConfig{
			{
				RuleType: "fixedPoint",
				Weight:   0.4,
				Enabled:  true,
				Parameters: map[string]any{
					"points": []any{
						map[string]any{"x": float64(0), "y": float64(0)},
						map[string]any{"x": float64(1), "y": float64(1)},
						map[string]any{"x": float64(2), "y": float64(2)},
					},
				},
			},
			{
				RuleType:   "centerEdge",
				Weight:     0.3,
				Enabled:    true,
				Parameters: map[string]any{"edgeMargin": float64(0)},
			},
			{
				RuleType:   "uniformGrid",
				Weight:     0.3,
				Enabled:    true,
				Parameters: map[string]any{"gridSpacing": float64(2)},
			},
		},
	}
	c, err := strategy.Compile(def, registry(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return c
}

func TestExecuteMultiRule(t *testing.T) {
	res, err := Execute(context.Background(), multiRule(t), grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	n := res.CoverageStats.SelectedCount
	if n < 3 || n > 9 {
		t.Errorf("selected = %d, want within [3, 9]", n)
	}
	if res.CoverageStats.CoveragePct < 33 {
		t.Errorf("coverage = %.1f%%, want >= 33%%", res.CoverageStats.CoveragePct)
	}
	for _, name := range []string{"fixedPoint", "centerEdge", "uniformGrid"} {
		if res.CoverageStats.RuleDistribution[name] == 0 {
			t.Errorf("rule %s produced no points", name)
		}
	}
}

func TestExecuteDeterministic(t *testing.T) {
	c := multiRule(t)
	a, err := Execute(context.Background(), c, grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Execute(context.Background(), c, grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.SelectedPoints, b.SelectedPoints) {
		t.Error("repeated execution differs")
	}
	if !reflect.DeepEqual(a.CoverageStats, b.CoverageStats) {
		t.Error("repeated statistics differ")
	}
}

func TestExecuteSortedByPriority(t *testing.T) {
	res, err := Execute(context.Background(), multiRule(t), grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(res.SelectedPoints); i++ {
		if res.SelectedPoints[i].Priority > res.SelectedPoints[i-1].Priority {
			t.Fatal("points not sorted by priority descending")
		}
	}
}

func TestExecuteRuleSourceMerge(t *testing.T) {
	// A fixedPoint rule and a randomSampling rule hitting the same die:
	// sources merge, priority takes the max weighted value.
	def := &strategy.Definition{
		ID: "dup", Name: "dup", StrategyType: strategy.TypeCustom, Version: "1.0.0",
		Rules: []strategy.RuleConfig{
			{RuleType: "fixedPoint", Weight: 0.7, Enabled: true,
				Parameters: map[string]any{"points": []any{map[string]any{"x": float64(1), "y": float64(1)}}}},
			{RuleType: "randomSampling", Weight: 0.3, Enabled: true,
				Parameters: map[string]any{"count": float64(9), "seed": float64(1)}},
		},
	}
	c, err := strategy.Compile(def, registry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), c, grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}

	var hit *SelectedPoint
	for i := range res.SelectedPoints {
		p := &res.SelectedPoints[i]
		if p.X == 1 && p.Y == 1 {
			hit = p
		}
	}
	if hit == nil {
		t.Fatal("die (1,1) missing from result")
	}
	if hit.RuleSource != "fixedPoint,randomSampling" {
		t.Errorf("ruleSource = %q, want merged alphabetical", hit.RuleSource)
	}
	if math.Abs(hit.Priority-0.7) > 1e-9 {
		t.Errorf("priority = %g, want 0.7 (max of weighted contributions)", hit.Priority)
	}
}

func TestExecuteWeightConservation(t *testing.T) {
	res, err := Execute(context.Background(), multiRule(t), grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	// Deduplication only reduces totals: the merged sum never exceeds the
	// number of raw candidates, since each weighted priority is at most 1.
	sum := 0.0
	for _, p := range res.SelectedPoints {
		sum += p.Priority
	}
	raw := 0.0
	for name, count := range res.CoverageStats.RuleDistribution {
		_ = name
		raw += float64(count) // each raw priority <= 1 before weighting
	}
	if sum > raw {
		t.Errorf("merged priority sum %.3f exceeds raw bound %.3f", sum, raw)
	}
}

func TestExecuteEmptyWafer(t *testing.T) {
	res, err := Execute(context.Background(), multiRule(t), wafer.NewMap(), strategy.ExecContext{})
	if err != nil {
		t.Fatalf("empty wafer must not error: %v", err)
	}
	if len(res.SelectedPoints) != 0 {
		t.Error("expected empty site list")
	}
	if len(res.Warnings) == 0 {
		t.Error("expected an explanatory warning")
	}
}

func TestExecuteNoEligibleRules(t *testing.T) {
	def := &strategy.Definition{
		ID: "gated", Name: "gated", StrategyType: strategy.TypeCustom, Version: "1.0.0",
		Rules: []strategy.RuleConfig{
			{RuleType: "centerEdge", Weight: 1, Enabled: true,
				Conditions: &strategy.ConditionalLogic{WaferSize: "450mm"}},
		},
	}
	c, err := strategy.Compile(def, registry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), c, grid(t, 3, 3), strategy.ExecContext{WaferSize: "300mm"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SelectedPoints) != 0 {
		t.Error("gated rule should produce nothing")
	}
	found := false
	for _, w := range res.Warnings {
		if len(w) >= len("noEligibleRules") && w[:len("noEligibleRules")] == "noEligibleRules" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want noEligibleRules", res.Warnings)
	}
}

func TestExecuteMaxSitesZero(t *testing.T) {
	zero := 0
	res, err := Execute(context.Background(), multiRule(t), grid(t, 3, 3),
		strategy.ExecContext{ToolConstraints: strategy.ToolConstraints{MaxSites: &zero}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SelectedPoints) != 0 {
		t.Error("maxSites 0 should yield an empty result")
	}
}

func TestExecuteMaxSitesTruncates(t *testing.T) {
	two := 2
	res, err := Execute(context.Background(), multiRule(t), grid(t, 3, 3),
		strategy.ExecContext{ToolConstraints: strategy.ToolConstraints{MaxSites: &two}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SelectedPoints) != 2 {
		t.Errorf("selected = %d, want 2", len(res.SelectedPoints))
	}
}

func TestExecuteMinSpacing(t *testing.T) {
	res, err := Execute(context.Background(), multiRule(t), grid(t, 3, 3),
		strategy.ExecContext{ToolConstraints: strategy.ToolConstraints{MinSpacing: 1.5}})
	if err != nil {
		t.Fatal(err)
	}
	for i, a := range res.SelectedPoints {
		for _, b := range res.SelectedPoints[i+1:] {
			d := geometry.Distance(geometry.Point2D{X: a.X, Y: a.Y}, geometry.Point2D{X: b.X, Y: b.Y})
			if d < 1.5 {
				t.Errorf("points %.1f apart, want >= 1.5", d)
			}
		}
	}
}

func TestExecuteTransform(t *testing.T) {
	def := &strategy.Definition{
		ID: "tr", Name: "tr", StrategyType: strategy.TypeCustom, Version: "1.0.0",
		Rules: []strategy.RuleConfig{
			{RuleType: "fixedPoint", Weight: 1, Enabled: true,
				Parameters: map[string]any{"points": []any{map[string]any{"x": float64(1), "y": float64(2)}}}},
		},
		Transformations: &geometry.Transform{ScaleFactor: 10, OffsetX: 5},
	}
	c, err := strategy.Compile(def, registry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), c, grid(t, 3, 3), strategy.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SelectedPoints) != 1 {
		t.Fatalf("selected = %d", len(res.SelectedPoints))
	}
	p := res.SelectedPoints[0]
	if p.X != 15 || p.Y != 20 {
		t.Errorf("transformed point = (%g,%g), want (15,20)", p.X, p.Y)
	}
	// The transformed point leaves the 3x3 grid bounds, so a warning fires.
	if len(res.Warnings) == 0 {
		t.Error("expected out-of-bounds warning")
	}
}

func TestDeriveSeedStable(t *testing.T) {
	if DeriveSeed("a", "1.0.0") != DeriveSeed("a", "1.0.0") {
		t.Error("seed not stable")
	}
	if DeriveSeed("a", "1.0.0") == DeriveSeed("a", "1.0.1") {
		t.Error("seed should vary by version")
	}
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Execute(ctx, multiRule(t), grid(t, 3, 3), strategy.ExecContext{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
