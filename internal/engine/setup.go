package engine

import (
	"fmt"
	"log/slog"

	"github.com/factgate/factgate/internal/cache"
	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/llm"
	"github.com/factgate/factgate/internal/match"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/rules"
	"github.com/factgate/factgate/internal/store"
)

// Build wires a complete engine from config: cache, index, matcher,
// rule loader, optional semantic validator, filesystem persistence,
// and checkpoint log. The returned close function releases cache
// backends and must be called when the engine is done.
func Build(cfg *model.Config, dataDir string, logger *slog.Logger) (*Engine, func() error, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}

	var shared cache.Cache
	closeCache := func() error { return nil }
	if cfg.Cache.Enabled {
		layered, err := cache.NewLayeredCache(cfg.Cache)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache: %w", err)
		}
		shared = layered
		closeCache = layered.Close
	}

	fsStore := store.NewFSStore(cfg.Facts.SourceDir, dataDir)
	index := facts.NewIndex(facts.NewLoader(fsStore, shared))
	matcher := match.NewMatcher(cfg.Match, shared)
	ruleLoader := rules.NewLoader(cfg.Rules.Dir, cfg.Rules.CacheTTL)

	var semantic *llm.Validator
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		_ = closeCache()
		return nil, nil, fmt.Errorf("configure semantic validation: %w", err)
	}
	if provider != nil {
		semantic = llm.NewValidator(provider, cfg.LLM.RequestsPerSecond)
	}

	var checkpoints CheckpointLog
	if cfg.Engine.CheckpointDir != "" {
		checkpoints, err = NewFileCheckpointLog(cfg.Engine.CheckpointDir)
		if err != nil {
			_ = closeCache()
			return nil, nil, err
		}
	}

	eng := New(cfg, Options{
		Index:       index,
		Matcher:     matcher,
		Rules:       ruleLoader,
		Semantic:    semantic,
		Persistence: fsStore,
		Checkpoints: checkpoints,
		Logger:      logger,
	})
	return eng, closeCache, nil
}
