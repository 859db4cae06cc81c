package validate

import "github.com/fabworks/wafersampler/pkg/schematic"

// conflictAdvice is the fixed per-conflict recommendation table.
var conflictAdvice = map[ConflictType]string{
	ConflictOutOfBounds:      "Adjust transformation offset or edge margin",
	ConflictDuplicateSite:    "Reduce rule overlap or increase minimum spacing",
	ConflictUnavailableDie:   "Exclude unavailable dies from rule parameters",
	ConflictClusterViolation: "Spread sampling points or lower sampling density",
	ConflictOverlap:          "Separate overlapping measurement sites",
}

// recommend builds the result-level recommendation list from a fixed
// table keyed by the dominant conflict type and score bands. The output
// is deterministic for reproducible validation records.
func recommend(r *Result, sch *schematic.Data) []string {
	var out []string

	if dominant, ok := dominantConflict(r.Conflicts); ok {
		out = append(out, conflictAdvice[dominant])
	}
	if r.AlignmentScore < 0.7 {
		out = append(out, "Review rule weights against the die layout")
	}
	if r.CoveragePct < 50 {
		out = append(out, "Increase sampling density to improve wafer coverage")
	}
	if r.TotalPoints == 0 {
		out = append(out, "Strategy produced no points; check rule conditions and parameters")
	}
	return out
}

// dominantConflict returns the most frequent conflict type; ties resolve
// by the fixed ranking below: unavailableDie, outOfBounds, duplicateSite,
// clusterViolation, overlap.
func dominantConflict(conflicts []Conflict) (ConflictType, bool) {
	if len(conflicts) == 0 {
		return "", false
	}
	counts := make(map[ConflictType]int)
	for _, c := range conflicts {
		counts[c.ConflictType]++
	}
	ranking := []ConflictType{
		ConflictUnavailableDie,
		ConflictOutOfBounds,
		ConflictDuplicateSite,
		ConflictClusterViolation,
		ConflictOverlap,
	}
	best, bestCount := ranking[0], 0
	for _, ct := range ranking {
		if counts[ct] > bestCount {
			best, bestCount = ct, counts[ct]
		}
	}
	return best, bestCount > 0
}
