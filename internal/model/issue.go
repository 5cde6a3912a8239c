package model

import "errors"

// Error taxonomy. Stage and loader failures are classified against these
// sentinels to decide retry and propagation behavior.
var (
	ErrSourceMissing        = errors.New("fact source missing")
	ErrSourceCorrupt        = errors.New("fact source corrupt")
	ErrDependencyUnmet      = errors.New("stage dependency unmet")
	ErrTransientUnavailable = errors.New("collaborator temporarily unavailable")
	ErrPermanentRejected    = errors.New("input permanently rejected")
	ErrRunCancelled         = errors.New("run cancelled")
	ErrNotFound             = errors.New("not found")
)

// IsTransient reports whether err should be retried under the backoff policy.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientUnavailable)
}

// IssueLevel grades the severity of a validation issue
type IssueLevel string

const (
	LevelCritical IssueLevel = "critical"
	LevelError    IssueLevel = "error"
	LevelWarning  IssueLevel = "warning"
	LevelInfo     IssueLevel = "info"
)

// Issue categories produced by the core stages
const (
	CategoryStructure       = "structure"
	CategoryEncoding        = "encoding"
	CategoryMetadata        = "metadata"
	CategoryLinks           = "links"
	CategoryFactDetection   = "fact-detection"
	CategoryFactValidation  = "fact-validation"
	CategoryCombination     = "combination-rule"
	CategorySemantic        = "semantic"
	CategoryDependencyUnmet = "dependency-unmet"
	CategoryStageFailure    = "stage-failure"
)

// ValidationIssue is a single finding produced by a validator stage
type ValidationIssue struct {
	Level       IssueLevel `json:"level"`                 // critical, error, warning, info
	Category    string     `json:"category"`              // Issue classification
	Message     string     `json:"message"`               // Human-readable description
	LineNumber  int        `json:"line_number,omitempty"` // 1-based, 0 when not line-scoped
	AutoFixable bool       `json:"auto_fixable"`          // Whether a fix can be generated
	Source      string     `json:"source"`                // Stage id that produced the issue
}
