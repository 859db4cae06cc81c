package validate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/geometry"
	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/wafer"
)

// Mode selects how sternly conflicts are judged.
type Mode string

const (
	// Strict escalates outOfBounds and duplicateSite warnings to errors.
	Strict Mode = "strict"
	// Permissive keeps the default severities.
	Permissive Mode = "permissive"
)

// Status is the overall verdict of a validation run.
type Status string

const (
	StatusPass         Status = "pass"
	StatusWarning      Status = "warning"
	StatusFail         Status = "fail"
	StatusNotValidated Status = "notValidated"
)

// ConflictType categorizes one geometric disagreement.
type ConflictType string

const (
	ConflictOutOfBounds      ConflictType = "outOfBounds"
	ConflictOverlap          ConflictType = "overlap"
	ConflictDuplicateSite    ConflictType = "duplicateSite"
	ConflictUnavailableDie   ConflictType = "unavailableDie"
	ConflictClusterViolation ConflictType = "clusterViolation"
)

// Severity ranks a conflict's impact on the alignment score.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// severityWeights feed the alignment score.
var severityWeights = map[Severity]float64{
	SeverityError:   1.0,
	SeverityWarning: 0.4,
	SeverityInfo:    0.1,
}

// DefaultMaxClusterDensity bounds how many points may share a
// median-die-width neighborhood.
const DefaultMaxClusterDensity = 3

// Conflict is one strategy point that disagrees with the schematic.
type Conflict struct {
	ConflictType   ConflictType     `json:"conflictType"`
	StrategyPoint  geometry.Point2D `json:"strategyPoint"`
	Description    string           `json:"description"`
	Severity       Severity         `json:"severity"`
	AffectedDieID  string           `json:"affectedDieId,omitempty"`
	Recommendation string           `json:"recommendation,omitempty"`
}

// Result is the stored outcome of one validation run.
type Result struct {
	ID               string     `json:"id"`
	StrategyID       string     `json:"strategyId"`
	SchematicID      string     `json:"schematicId"`
	ValidationStatus Status     `json:"validationStatus"`
	AlignmentScore   float64    `json:"alignmentScore"`
	CoveragePct      float64    `json:"coveragePct"`
	TotalPoints      int        `json:"totalPoints"`
	ValidPoints      int        `json:"validPoints"`
	Conflicts        []Conflict `json:"conflicts"`
	Warnings         []string   `json:"warnings,omitempty"`
	Recommendations  []string   `json:"recommendations,omitempty"`
	ValidatedBy      string     `json:"validatedBy,omitempty"`
	ValidationDate   time.Time  `json:"validationDate"`
}

// Run executes the strategy against a wafer map synthesized from the
// schematic and intersects the selected points with the die boundaries.
func Run(ctx context.Context, sch *schematic.Data, compiled *strategy.Compiled, mode Mode, ec strategy.ExecContext) (*Result, error) {
	if mode == "" {
		mode = Permissive
	}

	res := &Result{
		StrategyID:       compiled.DefinitionID,
		SchematicID:      sch.ID,
		ValidationStatus: StatusNotValidated,
		ValidationDate:   time.Now().UTC(),
	}

	grid := synthesizeGrid(sch.Dies)
	wm, err := grid.waferMap()
	if err != nil {
		return nil, fmt.Errorf("validate: synthesize wafer map: %w", err)
	}

	sim, err := engine.Execute(ctx, compiled, wm, ec)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, sim.Warnings...)
	res.TotalPoints = len(sim.SelectedPoints)

	if res.TotalPoints == 0 {
		res.ValidationStatus = StatusFail
		res.Recommendations = recommend(res, sch)
		return res, nil
	}

	ix := newBoundaryIndex(sch.Dies)
	hitCounts := make(map[int]int)
	located := make([]int, len(sim.SelectedPoints))
	points := make([]geometry.Point2D, len(sim.SelectedPoints))

	for i, sp := range sim.SelectedPoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := grid.toSchematic(geometry.Point2D{X: sp.X, Y: sp.Y})
		points[i] = p
		idx := ix.locate(p)
		located[i] = idx
		if idx < 0 {
			res.addConflict(mode, Conflict{
				ConflictType:  ConflictOutOfBounds,
				StrategyPoint: p,
				Description:   fmt.Sprintf("point (%.2f, %.2f) lies outside every die boundary", p.X, p.Y),
				Severity:      SeverityWarning,
			})
			continue
		}
		b := sch.Dies[idx]
		hitCounts[idx]++
		if hitCounts[idx] > 1 {
			res.addConflict(mode, Conflict{
				ConflictType:  ConflictDuplicateSite,
				StrategyPoint: p,
				Description:   fmt.Sprintf("die %s selected %d times", b.DieID, hitCounts[idx]),
				Severity:      SeverityWarning,
				AffectedDieID: b.DieID,
			})
		}
		if !b.Available {
			res.addConflict(mode, Conflict{
				ConflictType:  ConflictUnavailableDie,
				StrategyPoint: p,
				Description:   fmt.Sprintf("die %s is marked unavailable", b.DieID),
				Severity:      SeverityError,
				AffectedDieID: b.DieID,
			})
		}
	}

	res.addClusterConflicts(mode, points, sch.Statistics.MedianDieWidth)

	res.ValidPoints = res.TotalPoints - len(res.Conflicts)
	if res.ValidPoints < 0 {
		res.ValidPoints = 0
	}

	// Alignment: one minus the weighted conflict mass per point.
	weighted := 0.0
	for _, c := range res.Conflicts {
		weighted += severityWeights[c.Severity]
	}
	res.AlignmentScore = clamp01(1 - weighted/float64(res.TotalPoints))

	if len(sch.Dies) > 0 {
		res.CoveragePct = float64(len(hitCounts)) / float64(len(sch.Dies)) * 100
	}

	errors := 0
	for _, c := range res.Conflicts {
		if c.Severity == SeverityError {
			errors++
		}
	}
	switch {
	case errors == 0 && res.AlignmentScore >= 0.9:
		res.ValidationStatus = StatusPass
	case errors == 0 && res.AlignmentScore >= 0.5:
		res.ValidationStatus = StatusWarning
	default:
		res.ValidationStatus = StatusFail
	}

	res.Recommendations = recommend(res, sch)
	return res, nil
}

// addConflict applies the mode's severity escalation before recording.
func (r *Result) addConflict(mode Mode, c Conflict) {
	if mode == Strict && c.Severity == SeverityWarning &&
		(c.ConflictType == ConflictOutOfBounds || c.ConflictType == ConflictDuplicateSite) {
		c.Severity = SeverityError
	}
	c.Recommendation = conflictAdvice[c.ConflictType]
	r.Conflicts = append(r.Conflicts, c)
}

// addClusterConflicts flags points whose neighborhood, of radius equal to
// the median die width, holds more than the allowed density.
func (r *Result) addClusterConflicts(mode Mode, points []geometry.Point2D, radius float64) {
	if radius <= 0 {
		return
	}
	for i, p := range points {
		neighbors := 0
		for j, q := range points {
			if i == j {
				continue
			}
			if geometry.Distance(p, q) <= radius {
				neighbors++
			}
		}
		if neighbors+1 > DefaultMaxClusterDensity {
			r.addConflict(mode, Conflict{
				ConflictType:  ConflictClusterViolation,
				StrategyPoint: p,
				Description:   fmt.Sprintf("%d points within radius %.2f", neighbors+1, radius),
				Severity:      SeverityWarning,
			})
		}
	}
}

// gridMapping links the synthesized integer grid back to schematic
// coordinates.
type gridMapping struct {
	dies    []gridDie
	originX float64
	originY float64
	pitchX  float64
	pitchY  float64
}

type gridDie struct {
	x, y      int
	available bool
}

// synthesizeGrid assigns (gridX, gridY) to each boundary by sorting
// centers in row-major order: rows grouped by center Y within half a
// median die height, columns ordered by center X.
func synthesizeGrid(boundaries []schematic.DieBoundary) *gridMapping {
	g := &gridMapping{pitchX: 1, pitchY: 1}
	if len(boundaries) == 0 {
		return g
	}

	idx := make([]int, len(boundaries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ba, bb := boundaries[idx[a]], boundaries[idx[b]]
		if ba.CenterY != bb.CenterY {
			return ba.CenterY < bb.CenterY
		}
		return ba.CenterX < bb.CenterX
	})

	heights := make([]float64, 0, len(boundaries))
	for _, b := range boundaries {
		heights = append(heights, b.Height)
	}
	sort.Float64s(heights)
	rowTol := heights[len(heights)/2] / 2
	if rowTol <= 0 {
		rowTol = 1e-9
	}

	type rowInfo struct {
		y       float64
		members []int
	}
	var rows []rowInfo
	for _, i := range idx {
		b := boundaries[i]
		if len(rows) == 0 || b.CenterY-rows[len(rows)-1].y > rowTol {
			rows = append(rows, rowInfo{y: b.CenterY})
		}
		last := &rows[len(rows)-1]
		last.members = append(last.members, i)
	}

	g.dies = make([]gridDie, len(boundaries))
	orig := make([]geometry.Point2D, len(boundaries))
	for ry, row := range rows {
		sort.SliceStable(row.members, func(a, b int) bool {
			return boundaries[row.members[a]].CenterX < boundaries[row.members[b]].CenterX
		})
		for rx, i := range row.members {
			g.dies[i] = gridDie{x: rx, y: ry, available: boundaries[i].Available}
			orig[i] = geometry.Point2D{X: boundaries[i].CenterX, Y: boundaries[i].CenterY}
		}
	}

	// Fit the grid-to-schematic mapping from the assigned cells: origin at
	// cell (0,0), pitch from the mean center spacing.
	var sumPX, sumPY float64
	var nPX, nPY int
	for i, d := range g.dies {
		if d.x == 0 && d.y == 0 {
			g.originX = orig[i].X
			g.originY = orig[i].Y
		}
		for j, e := range g.dies {
			if d.y == e.y && e.x == d.x+1 {
				sumPX += orig[j].X - orig[i].X
				nPX++
			}
			if d.x == e.x && e.y == d.y+1 {
				sumPY += orig[j].Y - orig[i].Y
				nPY++
			}
		}
	}
	if nPX > 0 {
		g.pitchX = sumPX / float64(nPX)
	}
	if nPY > 0 {
		g.pitchY = sumPY / float64(nPY)
	}
	if g.pitchX == 0 {
		g.pitchX = 1
	}
	if g.pitchY == 0 {
		g.pitchY = 1
	}
	return g
}

// waferMap materializes the synthesized grid.
func (g *gridMapping) waferMap() (*wafer.Map, error) {
	m := wafer.NewMap()
	for _, d := range g.dies {
		if err := m.Add(wafer.Die{X: d.x, Y: d.y, Available: d.available}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// toSchematic maps a (possibly fractional) grid coordinate back into
// schematic space.
func (g *gridMapping) toSchematic(p geometry.Point2D) geometry.Point2D {
	return geometry.Point2D{
		X: g.originX + p.X*g.pitchX,
		Y: g.originY + p.Y*g.pitchY,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
