package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/factgate/factgate/internal/llm"
	"github.com/factgate/factgate/internal/match"
	"github.com/factgate/factgate/internal/model"
)

// detectionStage runs the fuzzy matcher and publishes its candidates
// for the rest of the tier 3 chain.
type detectionStage struct {
	matcher *match.Matcher
}

func (detectionStage) ID() string { return StageFuzzyDetection }

func (d detectionStage) Run(ctx context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	res := &model.StageResult{StageID: StageFuzzyDetection, Tier: 3}

	if err := ctx.Err(); err != nil {
		res.Outcome = model.StageSkipped
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	detected, err := d.matcher.Detect(sc.Doc, sc.Snapshot, sc.Rules)
	if err != nil {
		res.Outcome = model.StageFailed
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	sc.Candidates = detected.Candidates
	res.Outcome = model.StageSucceeded
	res.Issues = detected.Issues
	res.Candidates = detected.Candidates
	res.Confidence = meanConfidence(detected.Candidates)
	res.Duration = time.Since(start)
	return res
}

// factValidationStage cross-checks detected facts against the index:
// family membership, declared dependencies, and detection confidence.
// Low-confidence and dependency findings become recommendations.
type factValidationStage struct {
	reviewThreshold float64 // Candidates below this get a review request
}

func (factValidationStage) ID() string { return StageFactValidation }

func (f factValidationStage) Run(ctx context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	res := &model.StageResult{StageID: StageFactValidation, Tier: 3}

	if err := ctx.Err(); err != nil {
		res.Outcome = model.StageSkipped
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	detected := make(map[string]bool)
	bestConfidence := make(map[string]float64)
	for _, c := range sc.Candidates {
		detected[c.FactID] = true
		if c.CombinedConfidence > bestConfidence[c.FactID] {
			bestConfidence[c.FactID] = c.CombinedConfidence
		}
	}

	ids := make([]string, 0, len(detected))
	for id := range detected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec, err := sc.Snapshot.Lookup(id)
		if err != nil {
			continue
		}

		if rec.Family != "" && sc.Doc.Family != "" && rec.Family != sc.Doc.Family {
			res.Issues = append(res.Issues, model.ValidationIssue{
				Level:    model.LevelWarning,
				Category: model.CategoryFactValidation,
				Message:  fmt.Sprintf("fact %q belongs to family %q, document declares %q", id, rec.Family, sc.Doc.Family),
				Source:   StageFactValidation,
			})
		}

		for _, depID := range rec.Dependencies {
			if detected[depID] {
				continue
			}
			depName := depID
			if dep, err := sc.Snapshot.Lookup(depID); err == nil {
				depName = dep.DisplayName
			}
			issue := model.ValidationIssue{
				Level:    model.LevelError,
				Category: model.CategoryDependencyUnmet,
				Message:  fmt.Sprintf("fact %q requires %q, which the document does not mention", rec.DisplayName, depName),
				Source:   StageFactValidation,
			}
			res.Issues = append(res.Issues, issue)
			res.Recommendations = append(res.Recommendations, model.Recommendation{
				Type:               model.RecContentAdd,
				Issue:              issue,
				ProposedContent:    fmt.Sprintf("Add coverage of %q where %q is discussed.", depName, rec.DisplayName),
				Rationale:          fmt.Sprintf("%q is a declared dependency of %q.", depName, rec.DisplayName),
				UpstreamConfidence: bestConfidence[id],
			})
		}
	}

	// Weakly-confident detections need a human eye, not a silent accept
	for _, c := range sc.Candidates {
		if c.CombinedConfidence >= f.reviewThreshold {
			continue
		}
		issue := model.ValidationIssue{
			Level:    model.LevelWarning,
			Category: model.CategoryFactValidation,
			Message:  fmt.Sprintf("mention %q weakly matches fact %q (confidence %.2f)", c.MatchedText, c.FactID, c.CombinedConfidence),
			Source:   StageFactValidation,
		}
		res.Issues = append(res.Issues, issue)
		res.Recommendations = append(res.Recommendations, model.Recommendation{
			Type:               model.RecReviewRequest,
			Issue:              issue,
			OriginalContent:    c.MatchedText,
			Rationale:          fmt.Sprintf("Detection confidence %.2f is below the review threshold %.2f.", c.CombinedConfidence, f.reviewThreshold),
			UpstreamConfidence: c.CombinedConfidence,
		})
	}

	res.Outcome = model.StageSucceeded
	res.Confidence = meanConfidence(sc.Candidates)
	res.Duration = time.Since(start)
	return res
}

// semanticStage sends the document and its detected candidates to the
// configured language model. Optional by design: a disabled or
// unreachable provider degrades the run, never fails it.
type semanticStage struct {
	validator    *llm.Validator
	policy       RetryPolicy
	stageTimeout time.Duration
}

func (semanticStage) ID() string { return StageSemanticValidation }

func (s semanticStage) Run(ctx context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	res := &model.StageResult{StageID: StageSemanticValidation, Tier: 3}

	if s.validator == nil || !s.validator.Enabled() {
		// Not configured is not a finding; the stage just does not run
		res.Outcome = model.StageSkipped
		res.Duration = time.Since(start)
		return res
	}

	req := llm.ValidateRequest{
		Content:    sc.Doc.Content,
		Candidates: sc.Candidates,
	}

	verdict, err := callWithRetry(ctx, s.policy, func(ctx context.Context) (*llm.ValidateResponse, error) {
		if s.stageTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.stageTimeout)
			defer cancel()
		}
		return s.validator.Validate(ctx, req)
	})
	if err != nil {
		res.Err = err.Error()
		res.Duration = time.Since(start)
		if model.IsTransient(err) || isTimeout(err) {
			// Retries exhausted: record the degradation without any
			// partial semantic findings.
			res.Outcome = model.StageUnavailable
			res.Issues = []model.ValidationIssue{{
				Level:    model.LevelWarning,
				Category: model.CategoryStageFailure,
				Message:  "semantic validation unavailable, results omitted",
				Source:   StageSemanticValidation,
			}}
			return res
		}
		res.Outcome = model.StageFailed
		return res
	}

	res.Outcome = model.StageSucceeded
	res.Issues = verdict.Issues
	res.Confidence = verdict.Confidence
	res.Duration = time.Since(start)
	return res
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout")
}

func meanConfidence(candidates []model.MatchCandidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candidates {
		sum += c.CombinedConfidence
	}
	return sum / float64(len(candidates))
}
