package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/factgate/factgate/internal/model"
)

// Provider defines the interface for semantic validator backends.
// Semantic validation is optional everywhere: a missing or unavailable
// provider degrades the pipeline, it never fails it.
type Provider interface {
	// Name returns the provider name
	Name() string

	// ValidateSemantics asks the model whether the document's claims are
	// consistent with the detected facts.
	ValidateSemantics(ctx context.Context, req ValidateRequest) (*ValidateResponse, error)

	// IsAvailable checks if the provider is configured and reachable
	IsAvailable(ctx context.Context) bool
}

// ValidateRequest is the input for one semantic validation call
type ValidateRequest struct {
	// Content is the document text under validation
	Content string

	// Candidates are the fact mentions the matcher detected; the model
	// is constrained to reason about these, not to invent new ones.
	Candidates []model.MatchCandidate

	// Model overrides the configured model name when set
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// ValidateResponse is the model's verdict
type ValidateResponse struct {
	Issues     []model.ValidationIssue // Semantic findings, may be empty
	Confidence float64                 // 0.0-1.0 self-reported confidence
	Model      string                  // Model that produced the verdict
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	Provider   string // "openai", "ollama", or "" (disabled)
	Model      string
	APIKey     string
	BaseURL    string
	Timeout    int // Seconds per call
	MaxTokens  int
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// ConfigFromModel converts the engine config section
func ConfigFromModel(c model.LLMConfig) Config {
	return Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
		MaxTokens:  c.MaxTokens,
		HTTPProxy:  c.HTTPProxy,
		HTTPSProxy: c.HTTPSProxy,
		NoProxy:    c.NoProxy,
	}
}

// BuildPrompt constructs the validation prompt. The model must respond
// with a single JSON object so parsing stays deterministic.
func BuildPrompt(req ValidateRequest) string {
	var facts strings.Builder
	for _, c := range req.Candidates {
		fmt.Fprintf(&facts, "- %s (matched %q, confidence %.2f)\n", c.FactID, c.MatchedText, c.CombinedConfidence)
	}
	if facts.Len() == 0 {
		facts.WriteString("(none detected)\n")
	}

	return fmt.Sprintf(`You are validating documentation against a catalog of known product facts.

Detected fact mentions:
%s
RULES:
1. Judge ONLY whether the document text is consistent with the detected facts.
2. Do NOT introduce facts that are not in the list above.
3. Report contradictions, impossible feature combinations, and claims about
   detected facts that the matched text does not support.
4. Respond with EXACTLY one JSON object, no prose, in this shape:
   {"issues": [{"level": "warning", "message": "...", "line": 0}], "confidence": 0.0}
   level is one of: critical, error, warning, info. confidence is your overall
   confidence in this verdict, 0.0-1.0.

Document:
---
%s
---`, facts.String(), req.Content)
}

// verdict is the wire shape the model must return
type verdict struct {
	Issues []struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Line    int    `json:"line"`
	} `json:"issues"`
	Confidence float64 `json:"confidence"`
}

// ParseVerdict extracts the JSON verdict from a model response,
// tolerating surrounding prose and markdown fences.
func ParseVerdict(raw string) (*ValidateResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parse model verdict: %w", err)
	}

	resp := &ValidateResponse{Confidence: clampConfidence(v.Confidence)}
	for _, is := range v.Issues {
		resp.Issues = append(resp.Issues, model.ValidationIssue{
			Level:      normalizeLevel(is.Level),
			Category:   model.CategorySemantic,
			Message:    is.Message,
			LineNumber: is.Line,
			Source:     "semantic-validation",
		})
	}
	return resp, nil
}

func normalizeLevel(level string) model.IssueLevel {
	switch strings.ToLower(level) {
	case "critical":
		return model.LevelCritical
	case "error":
		return model.LevelError
	case "warning":
		return model.LevelWarning
	default:
		return model.LevelInfo
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
