package model

import "time"

// Config is the full engine configuration, loadable from YAML
type Config struct {
	Facts  FactsConfig  `yaml:"facts"`
	Match  MatchConfig  `yaml:"match"`
	Cache  CacheConfig  `yaml:"cache"`
	Rules  RulesConfig  `yaml:"rules"`
	LLM    LLMConfig    `yaml:"llm"`
	Engine EngineConfig `yaml:"engine"`
	Output OutputConfig `yaml:"output"`
}

// FactsConfig controls fact definition loading
type FactsConfig struct {
	SourceDir string `yaml:"source_dir"` // Directory holding <family>.json|yaml definitions
}

// MatchConfig controls the fuzzy matcher
type MatchConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // Candidates below this are discarded
	ContextWindow       int     `yaml:"context_window"`       // Tokens inspected on each side of a match
}

// CacheConfig controls the layered cache
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"`     // "badger" (embedded) or "redis" (multi-node)
	Dir        string        `yaml:"dir"`         // Badger data directory
	RedisURL   string        `yaml:"redis_url"`   // redis:// URL when backend is "redis"
	L1Capacity int           `yaml:"l1_capacity"` // Max entries before LRU eviction
	L1TTL      time.Duration `yaml:"l1_ttl"`
	L2TTL      time.Duration `yaml:"l2_ttl"`
}

// RulesConfig controls combination rule loading
type RulesConfig struct {
	Dir      string        `yaml:"dir"`       // Directory holding <family>.rules.yaml files
	CacheTTL time.Duration `yaml:"cache_ttl"` // How long parsed rule sets stay cached
}

// LLMConfig configures the optional semantic validator
type LLMConfig struct {
	Provider          string  `yaml:"provider"`            // "openai", "ollama", or "" (disabled)
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Timeout           int     `yaml:"timeout"`             // Seconds per call
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Rate limit toward the provider
	HTTPProxy         string  `yaml:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy"`
}

// EngineConfig controls run scheduling and retry behavior
type EngineConfig struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"` // Pool size across all runs
	MaxRetries        int           `yaml:"max_retries"`         // Attempts per transient failure
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	StageTimeout      time.Duration `yaml:"stage_timeout"`       // Per external-collaborator call
	CheckpointDir     string        `yaml:"checkpoint_dir"`      // Empty keeps checkpoints in memory
}

// OutputConfig controls CLI reporting
type OutputConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Facts: FactsConfig{
			SourceDir: "facts",
		},
		Match: MatchConfig{
			SimilarityThreshold: 0.85,
			ContextWindow:       8,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "badger",
			Dir:        ".factgate/cache",
			L1Capacity: 512,
			L1TTL:      15 * time.Minute,
			L2TTL:      24 * time.Hour,
		},
		Rules: RulesConfig{
			Dir:      "rules",
			CacheTTL: 10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:          "", // Disabled by default
			Timeout:           30,
			MaxTokens:         1000,
			RequestsPerSecond: 2,
		},
		Engine: EngineConfig{
			MaxConcurrentRuns: 4,
			MaxRetries:        3,
			RetryBaseDelay:    100 * time.Millisecond,
			RetryMaxDelay:     5 * time.Second,
			StageTimeout:      30 * time.Second,
		},
	}
}
