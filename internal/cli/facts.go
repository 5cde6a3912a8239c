package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/store"
)

var (
	factsFamily string
	searchScope string
)

// factsCmd represents the facts command group
var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect the fact index",
	Long: `Inspect the loaded fact index: list records, search by alias or
pattern, and force a reload from source.`,
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all facts in a family",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := openSnapshot()
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Family %s: %d facts (index version %s)\n\n",
			snap.Family, snap.Len(), shortVersion(snap.Version))
		for _, rec := range snap.Records() {
			line := fmt.Sprintf("  %-24s %s", rec.ID, rec.DisplayName)
			if len(rec.Aliases) > 0 {
				line += fmt.Sprintf("  (aka %s)", strings.Join(rec.Aliases, ", "))
			}
			if len(rec.Dependencies) > 0 {
				line += fmt.Sprintf("  [requires %s]", strings.Join(rec.Dependencies, ", "))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var factsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search facts by alias, pattern, or family",
	Long: `Search the fact index. Scope controls which derived index is
consulted:
  alias    match against display names and aliases (default)
  pattern  match the query string against detection patterns
  family   list everything in the family`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := openSnapshot()
		if err != nil {
			return err
		}

		scope := facts.SearchScope(searchScope)
		switch scope {
		case facts.ScopeAlias, facts.ScopePattern, facts.ScopeFamily:
		default:
			return fmt.Errorf("unknown scope %q (supported: alias, pattern, family)", searchScope)
		}

		hits := snap.Search(args[0], scope)
		if len(hits) == 0 {
			fmt.Fprintf(os.Stderr, "No facts match %q in scope %s\n", args[0], scope)
			return nil
		}

		for _, rec := range hits {
			fmt.Printf("  %-24s %s\n", rec.ID, rec.DisplayName)
		}
		return nil
	},
}

var factsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Rebuild the family index from source",
	Long: `Reload parses and reindexes the family's fact definitions. The swap
is atomic: a corrupt source leaves the previous index untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		if factsDir != "" {
			cfg.Facts.SourceDir = factsDir
		}

		index := newIndex(cfg)
		snap, err := index.Reload(model.Family(factsFamily))
		if err != nil {
			return fmt.Errorf("reload failed, previous index unchanged: %w", err)
		}

		fmt.Fprintf(os.Stderr, "✓ Reloaded family %s: %d facts, version %s\n",
			snap.Family, snap.Len(), shortVersion(snap.Version))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(factsCmd)
	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsSearchCmd)
	factsCmd.AddCommand(factsReloadCmd)

	factsCmd.PersistentFlags().StringVar(&factsFamily, "family", "core", "fact family (core, desktop, mobile, enterprise)")
	factsCmd.PersistentFlags().StringVar(&factsDir, "facts-dir", "", "directory holding fact definitions")
	factsSearchCmd.Flags().StringVar(&searchScope, "scope", "alias", "search scope (alias, pattern, family)")
}

func newIndex(cfg *model.Config) *facts.Index {
	fsStore := store.NewFSStore(cfg.Facts.SourceDir, dataDir)
	return facts.NewIndex(facts.NewLoader(fsStore, nil))
}

func openSnapshot() (*facts.Snapshot, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	if factsDir != "" {
		cfg.Facts.SourceDir = factsDir
	}
	return newIndex(cfg).Snapshot(model.Family(factsFamily))
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
