// Package scoring implements the boolean-criterion weighted scoring engine
// (spec §4.6): a preset of per-(context,severity) weights is applied to a
// nested map of boolean criterion evaluations to produce a deterministic
// score in [0,1] and an APPROVED/NEEDS_IMPROVEMENT/REJECTED assessment.
//
// Preset weight tables are out of scope data per spec §1 ("Scoring preset
// tables -- external data; the scoring engine consumes them"); this package
// only defines the shape and the compute/validate operations.
package scoring

import (
	"fmt"
	"sort"
)

// Assessment is the scoring engine's final verdict.
type Assessment string

const (
	Approved         Assessment = "APPROVED"
	NeedsImprovement Assessment = "NEEDS_IMPROVEMENT"
	Rejected         Assessment = "REJECTED"
)

// Thresholds gates Assessment selection for one (context, severity) preset.
type Thresholds struct {
	Approved         float64
	NeedsImprovement float64
}

// Preset is a (context, severity)-keyed weight table: per-dimension,
// per-criterion weights that must sum to 1.0 (±0.01) across the whole
// preset, plus the assessment thresholds (spec §4.6, Glossary "Preset").
type Preset struct {
	Context    string
	Severity   string
	Weights    map[string]map[string]float64 // dimension -> criterion -> weight
	Thresholds Thresholds
}

// Key returns the preset's lookup key, e.g. "graphscout/strict".
func (p Preset) Key() string {
	return fmt.Sprintf("%s/%s", p.Context, p.Severity)
}

// Validate enforces spec §4.6 "Context validity": weights sum to 1.0±0.01
// and approved > needs_improvement.
func (p Preset) Validate() error {
	total := 0.0
	for _, criteria := range p.Weights {
		for _, w := range criteria {
			total += w
		}
	}
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("preset %s: weights sum to %.4f, want 1.0 ± 0.01", p.Key(), total)
	}
	if p.Thresholds.Approved <= p.Thresholds.NeedsImprovement {
		return fmt.Errorf("preset %s: approved threshold (%.2f) must exceed needs_improvement threshold (%.2f)",
			p.Key(), p.Thresholds.Approved, p.Thresholds.NeedsImprovement)
	}
	return nil
}

// Evaluations is the nested {dimension -> {criterion -> bool}} input (spec
// §4.6).
type Evaluations map[string]map[string]bool

// Result is the outcome of Compute.
type Result struct {
	Score            float64
	Assessment       Assessment
	FailingCriteria  []string
}

// Compute implements spec §4.6's five steps: flatten weights, sum weight
// for true criteria, clamp to [0,1], classify against thresholds, and
// report which weighted criteria evaluated false.
//
// Compute is deterministic: identical (preset, evaluations) always produce
// an identical Result (spec §8 invariant).
func Compute(preset Preset, evals Evaluations) Result {
	score := 0.0
	var failing []string

	// Iterate dimensions/criteria in sorted order so floating-point
	// summation order -- and therefore the result for pathological
	// adversarial inputs -- is itself deterministic across runs.
	dimensions := make([]string, 0, len(preset.Weights))
	for d := range preset.Weights {
		dimensions = append(dimensions, d)
	}
	sort.Strings(dimensions)

	for _, dim := range dimensions {
		criteria := preset.Weights[dim]
		names := make([]string, 0, len(criteria))
		for c := range criteria {
			names = append(names, c)
		}
		sort.Strings(names)

		for _, crit := range names {
			weight := criteria[crit]
			ok := evals[dim][crit]
			if ok {
				score += weight
			} else {
				failing = append(failing, dim+"."+crit)
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	var assessment Assessment
	switch {
	case score >= preset.Thresholds.Approved:
		assessment = Approved
	case score >= preset.Thresholds.NeedsImprovement:
		assessment = NeedsImprovement
	default:
		assessment = Rejected
	}

	return Result{Score: score, Assessment: assessment, FailingCriteria: failing}
}
