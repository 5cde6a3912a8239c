package cli

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/factgate/factgate/internal/engine"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	batchFamily  string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Validate multiple documents from a list in parallel",
	Long: `Batch validates many documents concurrently:
- Read document paths from an input file (one per line)
- Process documents in parallel with a configurable worker count
- Runs share one engine, one fact index, and one cache
- Write an individual JSON report per document

Example:
  factgate batch docs.txt --family desktop
  factgate batch docs.txt --concurrency 8 --output-dir ./reports
  factgate batch docs.txt --family core --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./factgate-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&batchFamily, "family", "core", "fact family to validate against")
	batchCmd.Flags().StringVar(&factsDir, "batch-facts-dir", "", "directory holding fact definitions")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the layered cache")
}

// batchResult pairs one document path with its run outcome
type batchResult struct {
	Path   string
	Report *model.RunReport
	Err    error
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	paths, err := readPathList(file)
	if err != nil {
		return fmt.Errorf("read input file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  FactGate Batch Validation\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Documents:    %d\n", len(paths))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Family:       %s\n", batchFamily)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	applyCheckFlags(cfg)
	cfg.Engine.MaxConcurrentRuns = concurrency

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	eng, closeEngine, err := engine.Build(cfg, dataDir, newLogger())
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	pool := worker.NewPool[batchResult](concurrency)
	pool.Start()

	// The batch timeout cancels outstanding work through the pool
	go func() {
		<-ctx.Done()
		pool.Shutdown()
	}()

	for _, path := range paths {
		path := path
		pool.Submit(func(ctx context.Context) batchResult {
			return validateOne(ctx, eng, path)
		})
	}

	results := pool.Wait()

	successCount := 0
	failureCount := 0
	for _, result := range results {
		if result.Err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Path, result.Err)
			continue
		}
		successCount++

		slug := sanitizeFilename(result.Path)
		jsonPath := filepath.Join(outputDir, slug+".json")
		data, err := json.MarshalIndent(result.Report, "", "  ")
		if err == nil {
			err = os.WriteFile(jsonPath, data, 0644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write report: %v\n", result.Path, err)
			continue
		}

		fmt.Fprintf(os.Stderr, "✓ %s (%s, %d issues, %d recommendations)\n",
			result.Path, result.Report.Status, len(result.Report.Issues), len(result.Report.Recommendations))
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d documents\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d documents failed", failureCount, len(results))
	}
	return nil
}

func validateOne(ctx context.Context, eng *engine.Engine, path string) batchResult {
	content, err := os.ReadFile(path)
	if err != nil {
		return batchResult{Path: path, Err: err}
	}

	doc := model.Document{
		Name:        path,
		Content:     string(content),
		ContentType: guessContentType(path, ""),
		Family:      model.Family(batchFamily),
	}

	report, err := eng.Run(ctx, doc)
	return batchResult{Path: path, Report: report, Err: err}
}

// readPathList reads document paths, one per line, skipping blanks and
// # comments.
func readPathList(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, scanner.Err()
}

// sanitizeFilename turns a document path into a report slug. The whole
// path is kept, not just the basename, so documents with the same name
// in different directories get distinct report files; oversized slugs
// carry a hash of the full path to stay unique after truncation.
func sanitizeFilename(s string) string {
	full := s
	s = strings.TrimSuffix(s, filepath.Ext(s))
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "-",
	)
	s = replacer.Replace(s)
	if len(s) > 100 {
		sum := sha256.Sum256([]byte(full))
		s = s[:100] + "-" + hex.EncodeToString(sum[:4])
	}
	return s
}
