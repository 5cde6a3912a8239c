package llm

import (
	"fmt"
	"strings"
)

// NewProvider creates a semantic validator provider from configuration.
// An empty provider name means semantic validation is disabled; callers
// get (nil, nil) and must treat a nil provider as "skip the stage".
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama)", config.Provider)
	}
}
