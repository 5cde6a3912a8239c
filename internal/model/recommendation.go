package model

// RecommendationType orders recommendation kinds from most to least specific
type RecommendationType string

const (
	RecTargetedFix    RecommendationType = "targeted_fix"    // Exact replacement at a known location
	RecSectionRewrite RecommendationType = "section_rewrite" // Rewrite of a bounded section
	RecContentAdd     RecommendationType = "content_add"     // New content to insert
	RecReviewRequest  RecommendationType = "review_request"  // Needs a human decision
	RecGeneralNote    RecommendationType = "general_note"    // Advisory only
)

// Recommendation is a proposed remediation derived from validation findings
type Recommendation struct {
	Type               RecommendationType   `json:"type"`
	Issue              ValidationIssue      `json:"issue"`                      // The finding it addresses
	OriginalContent    string               `json:"original_content,omitempty"` // Content being replaced
	ProposedContent    string               `json:"proposed_content,omitempty"` // Replacement content
	Diff               string               `json:"diff,omitempty"`             // Unified diff of the change
	Rationale          string               `json:"rationale,omitempty"`        // Why the change is proposed
	UpstreamConfidence float64              `json:"upstream_confidence"`        // 0.0-1.0 from the producing stage
	Adjustments        map[string]float64   `json:"adjustments,omitempty"`      // Caller-supplied named factors
	Score              *RecommendationScore `json:"score,omitempty"`            // Filled in by the scorer
}

// RecommendationScore is the weighted confidence attached to a recommendation.
// Immutable after creation; recomputation overwrites, it does not version.
type RecommendationScore struct {
	Value           float64            `json:"value"`            // 0.0-1.0, clamped
	FactorBreakdown map[string]float64 `json:"factor_breakdown"` // Factor name -> contribution
	Explanation     string             `json:"explanation"`      // Assembled from non-zero factors
}
