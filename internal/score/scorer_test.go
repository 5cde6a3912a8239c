package score

import (
	"math"
	"testing"

	"github.com/factgate/factgate/internal/model"
)

func TestScorer_Score_FullyLoadedClampsToOne(t *testing.T) {
	scorer := NewScorer()

	rec := model.Recommendation{
		Type: model.RecTargetedFix,
		Issue: model.ValidationIssue{
			Level:    model.LevelCritical,
			Category: model.CategoryFactValidation,
			Message:  "wrong fact name",
		},
		OriginalContent:    "AutoSafe",
		ProposedContent:    "AutoSave",
		Diff:               "-AutoSafe\n+AutoSave",
		Rationale:          "Closest catalog match",
		UpstreamConfidence: 1.0,
		Adjustments:        map[string]float64{"reviewer_boost": 0.3},
	}

	result := scorer.Score(rec)

	// Factors sum past 1.0; the total clamps
	if result.Value != 1.0 {
		t.Errorf("Value = %f, want 1.0", result.Value)
	}
	if result.FactorBreakdown["severity"] != 0.30 {
		t.Errorf("severity = %f, want 0.30", result.FactorBreakdown["severity"])
	}
	if result.FactorBreakdown["completeness"] != 0.30 {
		t.Errorf("completeness = %f, want 0.30", result.FactorBreakdown["completeness"])
	}
	if result.FactorBreakdown["upstream_confidence"] != 0.20 {
		t.Errorf("upstream_confidence = %f, want 0.20", result.FactorBreakdown["upstream_confidence"])
	}
	if result.FactorBreakdown["type_specificity"] != 0.20 {
		t.Errorf("type_specificity = %f, want 0.20", result.FactorBreakdown["type_specificity"])
	}
	// Custom adjustments cap at 0.2
	if result.FactorBreakdown["custom"] != 0.20 {
		t.Errorf("custom = %f, want 0.20", result.FactorBreakdown["custom"])
	}
}

func TestScorer_Score_MinimalRecommendation(t *testing.T) {
	scorer := NewScorer()

	rec := model.Recommendation{
		Type:  model.RecGeneralNote,
		Issue: model.ValidationIssue{Level: model.LevelInfo},
	}

	result := scorer.Score(rec)

	// severity 0.10 + specificity 0.04, nothing else
	want := 0.14
	if math.Abs(result.Value-want) > 1e-9 {
		t.Errorf("Value = %f, want %f", result.Value, want)
	}
	if result.Value < 0 || result.Value > 1 {
		t.Errorf("Value %f out of [0,1]", result.Value)
	}
}

func TestScorer_Score_SeverityOrdering(t *testing.T) {
	scorer := NewScorer()

	levels := []model.IssueLevel{model.LevelInfo, model.LevelWarning, model.LevelError, model.LevelCritical}
	prev := -1.0
	for _, level := range levels {
		result := scorer.Score(model.Recommendation{
			Type:  model.RecReviewRequest,
			Issue: model.ValidationIssue{Level: level},
		})
		if result.Value <= prev {
			t.Errorf("severity %s should score above the previous level: %f <= %f", level, result.Value, prev)
		}
		prev = result.Value
	}
}

func TestScorer_Score_NegativeAdjustmentsFloorAtZero(t *testing.T) {
	scorer := NewScorer()

	rec := model.Recommendation{
		Type:        model.RecGeneralNote,
		Issue:       model.ValidationIssue{Level: model.LevelInfo},
		Adjustments: map[string]float64{"penalty": -5.0},
	}

	result := scorer.Score(rec)
	if result.FactorBreakdown["custom"] != 0 {
		t.Errorf("custom = %f, want 0 (negative adjustments floor at zero)", result.FactorBreakdown["custom"])
	}
	if result.Value < 0 {
		t.Errorf("Value = %f, must not go negative", result.Value)
	}
}

func TestScorer_Score_Deterministic(t *testing.T) {
	scorer := NewScorer()

	rec := model.Recommendation{
		Type:               model.RecSectionRewrite,
		Issue:              model.ValidationIssue{Level: model.LevelWarning},
		ProposedContent:    "rewrite",
		Rationale:          "stale section",
		UpstreamConfidence: 0.6,
		Adjustments:        map[string]float64{"a": 0.05, "b": 0.03},
	}

	first := scorer.Score(rec)
	second := scorer.Score(rec)

	if first.Value != second.Value {
		t.Errorf("values differ: %f vs %f", first.Value, second.Value)
	}
	if first.Explanation != second.Explanation {
		t.Errorf("explanations differ:\n%s\n%s", first.Explanation, second.Explanation)
	}
	if first.Explanation == "" {
		t.Error("explanation should not be empty")
	}
}

func TestScorer_Score_UpstreamConfidenceClamped(t *testing.T) {
	scorer := NewScorer()

	over := scorer.Score(model.Recommendation{
		Type:               model.RecGeneralNote,
		Issue:              model.ValidationIssue{Level: model.LevelInfo},
		UpstreamConfidence: 3.0,
	})
	if over.FactorBreakdown["upstream_confidence"] != 0.2 {
		t.Errorf("upstream factor = %f, want cap 0.2", over.FactorBreakdown["upstream_confidence"])
	}

	under := scorer.Score(model.Recommendation{
		Type:               model.RecGeneralNote,
		Issue:              model.ValidationIssue{Level: model.LevelInfo},
		UpstreamConfidence: -1.0,
	})
	if under.FactorBreakdown["upstream_confidence"] != 0 {
		t.Errorf("upstream factor = %f, want 0", under.FactorBreakdown["upstream_confidence"])
	}
}
