package model

// MatchCandidate is a possible fact mention found in a document.
// Candidates are produced fresh per detection run and handed to the
// caller; this subsystem never persists them.
type MatchCandidate struct {
	FactID             string  `json:"fact_id"`             // Matched FactRecord id
	MatchedText        string  `json:"matched_text"`        // The text span that matched
	StartOffset        int     `json:"start_offset"`        // Byte offset of match start
	EndOffset          int     `json:"end_offset"`          // Byte offset just past match end
	Similarity         float64 `json:"similarity"`          // 0.0-1.0, 1.0 for exact hits
	ContextScore       float64 `json:"context_score"`       // 0.0-1.0 from surrounding window
	CombinedConfidence float64 `json:"combined_confidence"` // 0.7*similarity + 0.3*context
}
