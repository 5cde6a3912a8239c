package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/factgate/factgate/internal/engine"
	"github.com/factgate/factgate/internal/model"
)

var (
	checkFamily   string
	contentType   string
	outJSON       string
	checkTimeout  time.Duration
	stagesFlag    []string
	factsDir      string
	rulesDir      string
	dataDir       string
	noCache       bool
	resumeRunID   string
	checkpointDir string
	llmEnabled    bool
	llmProvider   string
	llmModel      string
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a single document against the fact index",
	Long: `Check runs one document through the tiered validation plan:
- Tier 1: structure and encoding checks
- Tier 2: metadata and link checks
- Tier 3: fuzzy fact detection, dependency validation, optional
  semantic validation via a language model

Example:
  factgate check release-notes.md --family desktop
  factgate check page.html --family core --content-type text/html
  factgate check notes.md --family mobile --stages structure,fuzzy-detection
  factgate check notes.md --family core --llm --llm-provider openai --llm-model gpt-4o-mini`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFamily, "family", "core", "fact family to validate against (core, desktop, mobile, enterprise)")
	checkCmd.Flags().StringVar(&contentType, "content-type", "", "document content type (text/html enables HTML extraction)")
	checkCmd.Flags().StringVar(&outJSON, "json", "", "write the full report as JSON to this path")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 2*time.Minute, "overall run timeout")
	checkCmd.Flags().StringSliceVar(&stagesFlag, "stages", nil, "restrict the run to these stage ids (default: all)")
	checkCmd.Flags().StringVar(&factsDir, "facts-dir", "", "directory holding <family>.json|yaml fact definitions")
	checkCmd.Flags().StringVar(&rulesDir, "rules-dir", "", "directory holding <family>.rules.yaml files")
	checkCmd.Flags().StringVar(&dataDir, "data-dir", ".factgate/data", "directory for persisted reports and recommendations")
	checkCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the layered cache")
	checkCmd.Flags().StringVar(&resumeRunID, "resume", "", "resume a previous run id from its checkpoint log")
	checkCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "durable checkpoint directory (default: in-memory)")

	// LLM flags
	checkCmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable semantic validation via a language model")
	checkCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, ollama)")
	checkCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
}

func runCheck(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	applyCheckFlags(cfg)

	if llmEnabled {
		if err := configureLLM(cfg); err != nil {
			return err
		}
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Checking: %s\n", file)
		fmt.Fprintf(os.Stderr, "Family:   %s\n", checkFamily)
		fmt.Fprintf(os.Stderr, "Cache:    %v\n", cfg.Cache.Enabled)
		fmt.Fprintln(os.Stderr)
	}

	eng, closeEngine, err := engine.Build(cfg, dataDir, newLogger())
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	doc := model.Document{
		Name:        file,
		Content:     string(content),
		ContentType: guessContentType(file, contentType),
		Family:      model.Family(checkFamily),
	}

	var runID string
	if resumeRunID != "" {
		runID, err = eng.Resume(resumeRunID, doc, stagesFlag...)
	} else {
		runID, err = eng.SubmitDocument(doc, stagesFlag...)
	}
	if err != nil {
		return fmt.Errorf("submit document: %w", err)
	}

	report, err := eng.Wait(ctx, runID)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	printReport(report)

	if outJSON != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := os.WriteFile(outJSON, data, 0644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Report written to %s\n", outJSON)
		}
	}

	if report.Status == model.StatusFailed {
		return fmt.Errorf("validation run failed: %s", report.Err)
	}
	if report.HasBlockingIssues() {
		return fmt.Errorf("document has blocking issues")
	}
	return nil
}

func applyCheckFlags(cfg *model.Config) {
	if factsDir != "" {
		cfg.Facts.SourceDir = factsDir
	}
	if rulesDir != "" {
		cfg.Rules.Dir = rulesDir
	}
	if checkpointDir != "" {
		cfg.Engine.CheckpointDir = checkpointDir
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
}

// configureLLM wires the provider from flags and environment
func configureLLM(cfg *model.Config) error {
	cfg.LLM.Provider = llmProvider
	cfg.LLM.Model = llmModel

	switch llmProvider {
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case "ollama":
		// Ollama doesn't need an API key
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}
	return nil
}

func guessContentType(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		return "text/html"
	}
	return "text/plain"
}

// newLogger builds the engine logger. Quiet by default; verbose mode
// streams structured engine events to stderr.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// printReport summarizes a run on stderr
func printReport(report *model.RunReport) {
	fmt.Fprintf(os.Stderr, "Run %s: %s\n", report.RunID, report.Status)
	fmt.Fprintf(os.Stderr, "  Stages:          %d\n", len(report.Stages))
	fmt.Fprintf(os.Stderr, "  Detected facts:  %d\n", len(report.Candidates))
	fmt.Fprintf(os.Stderr, "  Issues:          %d\n", len(report.Issues))
	fmt.Fprintf(os.Stderr, "  Recommendations: %d\n", len(report.Recommendations))

	if len(report.Issues) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, is := range report.Issues {
			marker := "•"
			switch is.Level {
			case model.LevelCritical, model.LevelError:
				marker = "✗"
			case model.LevelWarning:
				marker = "!"
			}
			if is.LineNumber > 0 {
				fmt.Fprintf(os.Stderr, "  %s [%s] line %d: %s\n", marker, is.Level, is.LineNumber, is.Message)
			} else {
				fmt.Fprintf(os.Stderr, "  %s [%s] %s\n", marker, is.Level, is.Message)
			}
		}
	}

	if len(report.Recommendations) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, rec := range report.Recommendations {
			score := 0.0
			if rec.Score != nil {
				score = rec.Score.Value
			}
			fmt.Fprintf(os.Stderr, "  → (%.2f) %s: %s\n", score, rec.Type, rec.Rationale)
		}
	}
	fmt.Fprintln(os.Stderr)
}
