package strategy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fabworks/wafersampler/pkg/wafer"
)

// stubRule is a registry entry for compiler tests.
type stubRule struct {
	name      string
	rejectKey string
}

func (s *stubRule) Name() string { return s.name }

func (s *stubRule) Validate(params map[string]any) (any, error) {
	if s.rejectKey != "" {
		if _, ok := params[s.rejectKey]; ok {
			return nil, fmt.Errorf("%s: parameter %q rejected", s.name, s.rejectKey)
		}
	}
	return params, nil
}

func (s *stubRule) Apply(w *wafer.Map, params any, ctx ExecContext) []Candidate {
	return []Candidate{{X: 0, Y: 0, Priority: 1}}
}

func (s *stubRule) Estimate(w *wafer.Map) Estimate {
	return Estimate{ExpectedPointCount: 1, CostClass: CostLow}
}

func testRegistry() *RuleRegistry {
	reg := NewRuleRegistry()
	reg.Register(&stubRule{name: "alpha"})
	reg.Register(&stubRule{name: "beta", rejectKey: "bad"})
	return reg
}

func validDefinition() *Definition {
	return &Definition{
		ID:           "s-1",
		Name:         "test strategy",
		StrategyType: TypeCustom,
		Version:      "1.0.0",
		Rules: []RuleConfig{
			{RuleType: "alpha", Weight: 0.6, Enabled: true},
			{RuleType: "beta", Weight: 0.4, Enabled: true},
		},
	}
}

func TestCompileOK(t *testing.T) {
	c, err := Compile(validDefinition(), testRegistry(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(c.Rules) != 2 {
		t.Errorf("compiled %d rules, want 2", len(c.Rules))
	}
	if c.DefinitionID != "s-1" || c.Version != "1.0.0" {
		t.Errorf("identity = %s@%s", c.DefinitionID, c.Version)
	}
}

func TestCompileAggregatesIssues(t *testing.T) {
	def := validDefinition()
	def.Name = ""
	def.Rules = []RuleConfig{
		{RuleType: "nope", Weight: 1, Enabled: true},
		{RuleType: "beta", Weight: 1, Enabled: true, Parameters: map[string]any{"bad": true}},
	}

	_, err := Compile(def, testRegistry(), nil)
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CompileError", err)
	}
	// Missing name, unknown rule, rejected parameter: all reported at once.
	if len(cerr.Issues) < 3 {
		t.Errorf("issues = %+v, want at least 3", cerr.Issues)
	}
}

func TestCompileZeroWeight(t *testing.T) {
	def := validDefinition()
	def.Rules = []RuleConfig{{RuleType: "alpha", Weight: 0, Enabled: true}}
	_, err := Compile(def, testRegistry(), nil)
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CompileError for zero total weight", err)
	}
}

func TestCompileDisabledRulesSkipped(t *testing.T) {
	def := validDefinition()
	def.Rules[1].Enabled = false
	c, err := Compile(def, testRegistry(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(c.Rules) != 1 || c.Rules[0].Name != "alpha" {
		t.Errorf("compiled rules = %+v", c.Rules)
	}
}

func TestCompileVendorCheck(t *testing.T) {
	def := validDefinition()
	def.TargetVendor = "asml"
	if _, err := Compile(def, testRegistry(), func(name string) bool { return name == "asml" }); err != nil {
		t.Errorf("known vendor rejected: %v", err)
	}

	def.TargetVendor = "mystery"
	_, err := Compile(def, testRegistry(), func(name string) bool { return name == "asml" })
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CompileError for unknown vendor", err)
	}
}

func TestCompileIdempotent(t *testing.T) {
	def := validDefinition()
	a, err := Compile(def, testRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile(def, testRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Rules) != len(b.Rules) || a.DefinitionID != b.DefinitionID || a.Version != b.Version {
		t.Error("compilation is not structurally stable")
	}
	for i := range a.Rules {
		if a.Rules[i].Name != b.Rules[i].Name || a.Rules[i].Weight != b.Rules[i].Weight {
			t.Errorf("rule %d differs between compilations", i)
		}
	}
}

func TestCacheLRU(t *testing.T) {
	cache := NewCache(2)
	mk := func(id string) *Compiled {
		return &Compiled{DefinitionID: id, Version: "1.0.0"}
	}
	cache.Put(mk("a"))
	cache.Put(mk("b"))
	if _, ok := cache.Get("a", "1.0.0"); !ok {
		t.Fatal("a evicted too early")
	}
	cache.Put(mk("c")) // evicts b, the least recently used
	if _, ok := cache.Get("b", "1.0.0"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := cache.Get("a", "1.0.0"); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := cache.Get("c", "1.0.0"); !ok {
		t.Error("c should be cached")
	}
}

func TestConditionalLogicMatches(t *testing.T) {
	th := 0.5
	cond := &ConditionalLogic{
		WaferSize:              "300mm",
		DefectDensityThreshold: &th,
		CustomConditions:       map[string]string{"lot": "L1"},
	}
	ctx := ExecContext{
		WaferSize:     "300mm",
		DefectDensity: 0.7,
		ProcessParams: map[string]string{"lot": "L1"},
	}
	if !cond.Matches(ctx) {
		t.Error("conditions should match")
	}

	ctx.WaferSize = "200mm"
	if cond.Matches(ctx) {
		t.Error("wafer size mismatch should fail")
	}

	ctx.WaferSize = "300mm"
	ctx.DefectDensity = 0.2
	if cond.Matches(ctx) {
		t.Error("defect density below threshold should fail")
	}

	var nilCond *ConditionalLogic
	if !nilCond.Matches(ctx) {
		t.Error("nil conditions always match")
	}
}
