package vendors

import (
	"encoding/json"
	"encoding/xml"
	"math"
	"strings"
	"testing"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/validate"
)

func sampleResult() *engine.SimulationResult {
	return &engine.SimulationResult{
		SelectedPoints: []engine.SelectedPoint{
			{X: 0, Y: 0, RuleSource: "fixedPoint", Priority: 1.0, Available: true},
			{X: 2, Y: 0, RuleSource: "fixedPoint", Priority: 0.8, Available: true},
			{X: 0, Y: 2, RuleSource: "centerEdge", Priority: 0.6, Available: true},
			{X: 2, Y: 2, RuleSource: "centerEdge", Priority: 0.4, Available: false},
		},
	}
}

func sampleMeta() Meta {
	return Meta{
		StrategyID:   "s-1",
		StrategyName: "pilot",
		Version:      "1.2.0",
		WaferSize:    "300mm",
		ProductType:  "logic",
		ProcessLayer: "metal1",
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)
	reg.Freeze()

	if got := reg.Names(); len(got) != 2 || got[0] != "asml" || got[1] != "kla" {
		t.Errorf("Names = %v", got)
	}
	if !reg.Has("asml") || reg.Has("tel") {
		t.Error("Has misbehaves")
	}
	if _, err := reg.Lookup("tel"); err == nil {
		t.Error("expected unknown vendor error")
	}
}

func TestASMLEmit(t *testing.T) {
	data, err := (&ASML{}).Emit(sampleResult(), sampleMeta(), nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	for _, key := range []string{"format", "version", "wafer_data", "sampling_points"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	if doc["format"] != "ASML_JSON" {
		t.Errorf("format = %v", doc["format"])
	}

	// Sites re-center about the bounding-box midpoint (1, 1).
	var typed ASMLDocument
	if err := json.Unmarshal(data, &typed); err != nil {
		t.Fatal(err)
	}
	var sx, sy float64
	for _, s := range typed.SamplingPoints {
		sx += s.SiteX
		sy += s.SiteY
	}
	if math.Abs(sx) > 1e-9 || math.Abs(sy) > 1e-9 {
		t.Errorf("sites not center-origin: sum = (%g, %g)", sx, sy)
	}
}

func TestASMLRoundTrip(t *testing.T) {
	res := sampleResult()
	data, err := (&ASML{}).Emit(res, sampleMeta(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var doc ASMLDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.SamplingPoints) != len(res.SelectedPoints) {
		t.Fatalf("site count = %d, want %d", len(doc.SamplingPoints), len(res.SelectedPoints))
	}
	// Modulo the fixed center-origin shift of (1, 1), sites equal input.
	for i, s := range doc.SamplingPoints {
		in := res.SelectedPoints[i]
		if math.Abs(s.SiteX+1-in.X) > 1e-9 || math.Abs(s.SiteY+1-in.Y) > 1e-9 {
			t.Errorf("site %d = (%g,%g), input (%g,%g)", i, s.SiteX, s.SiteY, in.X, in.Y)
		}
		if s.Enabled != in.Available {
			t.Errorf("site %d enabled = %v", i, s.Enabled)
		}
	}
}

func TestKLAEmit(t *testing.T) {
	score := &validate.Result{AlignmentScore: 0.95, ValidationStatus: validate.StatusPass}
	data, err := (&KLA{}).Emit(sampleResult(), sampleMeta(), score)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "<?xml") {
		t.Error("missing XML declaration")
	}

	var plan KLAPlan
	if err := xml.Unmarshal(data, &plan); err != nil {
		t.Fatalf("output is not XML: %v", err)
	}
	if plan.Version != "2.0" {
		t.Errorf("version = %s", plan.Version)
	}
	if len(plan.Sites) != 4 {
		t.Fatalf("sites = %d", len(plan.Sites))
	}

	// Y flips against the input's maxY of 2: input y=0 becomes 2 and
	// vice versa; X shifts to a zero-based corner origin.
	if plan.Sites[0].YPosition != 2 || plan.Sites[2].YPosition != 0 {
		t.Errorf("Y not flipped: %+v", plan.Sites)
	}
	for _, s := range plan.Sites {
		if s.XPosition < 0 || s.YPosition < 0 {
			t.Errorf("site %d has negative coordinates", s.ID)
		}
	}
	if plan.Sites[0].Enabled != "true" || plan.Sites[3].Enabled != "false" {
		t.Errorf("enabled flags wrong: %+v", plan.Sites)
	}
	if plan.ValidationInfo == nil || plan.ValidationInfo.Score != 0.95 {
		t.Errorf("validation info = %+v", plan.ValidationInfo)
	}
}

func TestEmitEmptyResult(t *testing.T) {
	empty := &engine.SimulationResult{}
	for _, e := range []Emitter{&ASML{}, &KLA{}} {
		data, err := e.Emit(empty, sampleMeta(), nil)
		if err != nil {
			t.Errorf("%s: empty result should emit: %v", e.Name(), err)
		}
		if len(data) == 0 {
			t.Errorf("%s: empty output", e.Name())
		}
	}
}
