package repo

import (
	"context"
	"testing"
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/validate"
)

func draftDef(id, name string) *strategy.Definition {
	return &strategy.Definition{
		ID:           id,
		Name:         name,
		StrategyType: strategy.TypeCustom,
		ProcessStep:  "litho",
		ToolType:     "scanner",
		Author:       "alice",
		Version:      "1.0.0",
		Rules: []strategy.RuleConfig{
			{RuleType: "fixedPoint", Weight: 1, Enabled: true,
				Parameters: map[string]any{"points": []any{map[string]any{"x": 0.0, "y": 0.0}}}},
		},
		LifecycleState: strategy.LifecycleDraft,
	}
}

func TestMemoryStrategyVersioning(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStrategies()

	def := draftDef("s1", "first")
	if err := repo.Put(ctx, def); err != nil {
		t.Fatal(err)
	}
	def.Version = "1.0.1"
	def.Description = "edited"
	if err := repo.Put(ctx, def); err != nil {
		t.Fatal(err)
	}

	cur, err := repo.Get(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Version != "1.0.1" || cur.Description != "edited" {
		t.Errorf("current = %s %q, want 1.0.1 edited", cur.Version, cur.Description)
	}

	old, err := repo.Get(ctx, "s1", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if old.Description != "" {
		t.Errorf("old version mutated: %q", old.Description)
	}

	versions, err := repo.Versions(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0] != "1.0.0" || versions[1] != "1.0.1" {
		t.Errorf("versions = %v", versions)
	}
}

func TestMemoryStrategySnapshotSemantics(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStrategies()
	def := draftDef("s1", "first")
	if err := repo.Put(ctx, def); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy after Put must not leak into the store.
	def.Rules[0].Weight = 99
	got, err := repo.Get(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Rules[0].Weight != 1 {
		t.Errorf("stored weight = %v, want 1", got.Rules[0].Weight)
	}

	// Mutating a read copy must not leak either.
	got.Rules[0].RuleType = "mangled"
	again, _ := repo.Get(ctx, "s1", "")
	if again.Rules[0].RuleType != "fixedPoint" {
		t.Errorf("read copy shared storage: %q", again.Rules[0].RuleType)
	}
}

func TestMemoryStrategyListFilters(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStrategies()
	a := draftDef("a", "one")
	b := draftDef("b", "two")
	b.Author = "bob"
	b.ProcessStep = "etch"
	for _, d := range []*strategy.Definition{a, b} {
		if err := repo.Put(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.List(ctx, StrategyFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	bobs, err := repo.List(ctx, StrategyFilter{Author: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bobs) != 1 || bobs[0].ID != "b" {
		t.Errorf("author filter = %v", bobs)
	}

	etch, _ := repo.List(ctx, StrategyFilter{ProcessStep: "etch"})
	if len(etch) != 1 || etch[0].ID != "b" {
		t.Errorf("processStep filter = %v", etch)
	}
}

func TestMemoryStrategyDelete(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStrategies()
	if err := repo.Put(ctx, draftDef("s1", "x")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, "s1", ""); err == nil {
		t.Error("expected not found after delete")
	}
	if err := repo.Delete(ctx, "s1"); err == nil {
		t.Error("double delete should fail")
	} else if _, ok := err.(*ErrNotFound); !ok {
		t.Errorf("error type = %T", err)
	}
}

func sampleSchematic(id string) *schematic.Data {
	data := &schematic.Data{
		ID:               id,
		Filename:         "layout.svg",
		FormatType:       schematic.FormatSVG,
		UploadDate:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		CoordinateSystem: geometry.SVGUnits,
		Dies: []schematic.DieBoundary{
			schematic.NewDieBoundary("die_000", geometry.Bounds{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, true),
		},
	}
	data.Finalize()
	return data
}

func TestMemorySchematicRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newMemorySchematics()
	file := []byte("<svg></svg>")
	if err := repo.Put(ctx, sampleSchematic("sch1"), file, "alice"); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Statistics.DieCount != 1 {
		t.Errorf("dieCount = %d", got.Statistics.DieCount)
	}

	bytes, err := repo.FileBytes(ctx, "sch1")
	if err != nil {
		t.Fatal(err)
	}
	if string(bytes) != "<svg></svg>" {
		t.Errorf("file bytes = %q", bytes)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}

	if err := repo.Delete(ctx, "sch1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, "sch1"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestMemoryValidationsAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryValidations()
	res := &validate.Result{
		ID:               "v1",
		StrategyID:       "s1",
		SchematicID:      "sch1",
		ValidationStatus: validate.StatusPass,
		AlignmentScore:   0.95,
		ValidationDate:   time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	if err := repo.Put(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := repo.Put(ctx, res); err == nil {
		t.Error("duplicate id should conflict")
	} else if _, ok := err.(*ErrConflict); !ok {
		t.Errorf("error type = %T", err)
	}

	got, err := repo.Get(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AlignmentScore != 0.95 {
		t.Errorf("score = %v", got.AlignmentScore)
	}

	bySch, err := repo.List(ctx, ValidationFilter{SchematicID: "sch1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySch) != 1 {
		t.Errorf("schematic index len = %d", len(bySch))
	}
	none, _ := repo.List(ctx, ValidationFilter{StrategyID: "other"})
	if len(none) != 0 {
		t.Errorf("strategy filter leaked %d results", len(none))
	}
}
