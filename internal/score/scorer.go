package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/factgate/factgate/internal/model"
)

// Factor caps. The five factors sum to at most 1.2 before clamping,
// so a recommendation needs breadth across factors to reach 1.0.
const (
	maxSeverityFactor     = 0.3
	maxCompletenessFactor = 0.3
	maxUpstreamFactor     = 0.2
	maxSpecificityFactor  = 0.2
	maxCustomFactor       = 0.2

	completenessStep = 0.075 // Per present field: original, proposed, diff, rationale
)

// Scorer computes weighted confidence for recommendations. Pure: no
// side effects, no external calls, deterministic for identical inputs.
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the confidence for one recommendation candidate.
// Five independently capped factors are summed and clamped to [0,1].
func (s *Scorer) Score(rec model.Recommendation) model.RecommendationScore {
	breakdown := map[string]float64{
		"severity":            severityFactor(rec.Issue.Level),
		"completeness":        completenessFactor(rec),
		"upstream_confidence": upstreamFactor(rec.UpstreamConfidence),
		"type_specificity":    specificityFactor(rec.Type),
		"custom":              customFactor(rec.Adjustments),
	}

	total := 0.0
	for _, v := range breakdown {
		total += v
	}
	if total > 1.0 {
		total = 1.0
	}
	if total < 0.0 {
		total = 0.0
	}

	return model.RecommendationScore{
		Value:           total,
		FactorBreakdown: breakdown,
		Explanation:     explain(breakdown, total),
	}
}

// severityFactor maps issue severity to its contribution (0.0-0.3)
func severityFactor(level model.IssueLevel) float64 {
	switch level {
	case model.LevelCritical:
		return 0.30
	case model.LevelError:
		return 0.25
	case model.LevelWarning:
		return 0.20
	case model.LevelInfo:
		return 0.10
	default:
		return 0.15
	}
}

// completenessFactor rewards a fully specified fix: original content,
// proposed content, diff, and rationale each add one step.
func completenessFactor(rec model.Recommendation) float64 {
	f := 0.0
	if rec.OriginalContent != "" {
		f += completenessStep
	}
	if rec.ProposedContent != "" {
		f += completenessStep
	}
	if rec.Diff != "" {
		f += completenessStep
	}
	if rec.Rationale != "" {
		f += completenessStep
	}
	if f > maxCompletenessFactor {
		f = maxCompletenessFactor
	}
	return f
}

// upstreamFactor scales the producing stage's own confidence (0.0-0.2)
func upstreamFactor(confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return maxUpstreamFactor * confidence
}

// specificityFactor rates how actionable the recommendation type is,
// from targeted fix down to general note.
func specificityFactor(t model.RecommendationType) float64 {
	switch t {
	case model.RecTargetedFix:
		return maxSpecificityFactor
	case model.RecSectionRewrite:
		return 0.16
	case model.RecContentAdd:
		return 0.12
	case model.RecReviewRequest:
		return 0.08
	case model.RecGeneralNote:
		return 0.04
	default:
		return 0.08
	}
}

// customFactor sums caller-supplied named adjustments, capped to
// [0, 0.2]. Negative adjustments can cancel positive ones but the
// factor never drags the total below zero on its own.
func customFactor(adjustments map[string]float64) float64 {
	f := 0.0
	for _, v := range adjustments {
		f += v
	}
	if f > maxCustomFactor {
		f = maxCustomFactor
	}
	if f < 0 {
		f = 0
	}
	return f
}

// explain assembles the human-readable breakdown from non-zero factors,
// in a fixed order so identical inputs produce identical strings.
func explain(breakdown map[string]float64, total float64) string {
	names := make([]string, 0, len(breakdown))
	for name, v := range breakdown {
		if v > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, breakdown[name]))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("confidence %.2f: no contributing factors", total)
	}
	return fmt.Sprintf("confidence %.2f from %s", total, strings.Join(parts, ", "))
}
