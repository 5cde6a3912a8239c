package model

import "time"

// Document is the unit of work submitted to the engine
type Document struct {
	Name        string `json:"name,omitempty"`         // Optional display name (e.g., file path)
	Content     string `json:"content"`                // Raw document text (plain or HTML)
	ContentType string `json:"content_type,omitempty"` // "text/html" enables the HTML tokenizer
	Family      Family `json:"family"`                 // Declared fact family
}

// RunState is the lifecycle state of one document-processing run
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// RunStatus is the terminal quality of a finished run
type RunStatus string

const (
	StatusCompleted           RunStatus = "completed"
	StatusCompletedWithIssues RunStatus = "completed_with_issues"
	StatusFailed              RunStatus = "failed"
	StatusCancelled           RunStatus = "cancelled"
)

// StageOutcome is the terminal result of one stage invocation
type StageOutcome string

const (
	StageSucceeded   StageOutcome = "succeeded"
	StageFailed      StageOutcome = "failed"
	StageSkipped     StageOutcome = "skipped"
	StageUnavailable StageOutcome = "unavailable" // Transient failure, retries exhausted
)

// StageResult captures what one stage produced
type StageResult struct {
	StageID         string            `json:"stage_id"`
	Tier            int               `json:"tier"`
	Outcome         StageOutcome      `json:"outcome"`
	Issues          []ValidationIssue `json:"issues,omitempty"`
	Candidates      []MatchCandidate  `json:"candidates,omitempty"`      // Tier 3 detection output
	Recommendations []Recommendation  `json:"recommendations,omitempty"` // Proposed fixes
	Confidence      float64           `json:"confidence,omitempty"`      // Stage-level confidence, if any
	Err             string            `json:"error,omitempty"`
	Duration        time.Duration     `json:"duration"`
}

// Checkpoint is a durable record of a completed stage invocation,
// appended to the run's log before control returns to the orchestrator.
type Checkpoint struct {
	RunID     string       `json:"run_id"`
	Tier      int          `json:"tier"`
	StageID   string       `json:"stage_id"`
	InputHash string       `json:"input_hash"` // SHA-256 of document content + index version
	Outcome   StageOutcome `json:"outcome"`
	Result    *StageResult `json:"result,omitempty"` // Full stage output, replayed on resume
	Timestamp time.Time    `json:"timestamp"`
}

// RunReport is the full merged result of a run. GetRunReport always
// returns one, even for failed runs.
type RunReport struct {
	RunID           string            `json:"run_id"`
	Document        string            `json:"document,omitempty"` // Document name
	Family          Family            `json:"family"`
	Status          RunStatus         `json:"status"`
	IndexVersion    string            `json:"index_version,omitempty"` // Fact index content hash
	Issues          []ValidationIssue `json:"issues"`                  // Tier 1 before 2 before 3
	Candidates      []MatchCandidate  `json:"candidates,omitempty"`
	Recommendations []Recommendation  `json:"recommendations,omitempty"`
	Stages          []StageResult     `json:"stages"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Err             string            `json:"error,omitempty"` // Run-level fatal error
}

// HasBlockingIssues reports whether any issue is at error level or above
func (r *RunReport) HasBlockingIssues() bool {
	for _, is := range r.Issues {
		if is.Level == LevelCritical || is.Level == LevelError {
			return true
		}
	}
	return false
}
