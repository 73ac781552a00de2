package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/logsight/ds-analyzer/internal/cache"
	"github.com/logsight/ds-analyzer/internal/config"
	"github.com/logsight/ds-analyzer/internal/engine"
	"github.com/logsight/ds-analyzer/internal/events"
	"github.com/logsight/ds-analyzer/internal/extractors"
	"github.com/logsight/ds-analyzer/internal/knowledge"
	"github.com/logsight/ds-analyzer/internal/llm"
	"github.com/logsight/ds-analyzer/internal/patterns"
	"github.com/logsight/ds-analyzer/internal/prompt"
	"github.com/logsight/ds-analyzer/internal/repo"
	"github.com/logsight/ds-analyzer/internal/utils"
)

// wiring selects which optional integrations buildApp connects.
type wiring struct {
	completion bool
	events     bool
	storage    bool
}

// app holds the assembled pipeline and everything that needs closing.
type app struct {
	run     *engine.DiagnosticRun
	store   repo.Store
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp assembles the analysis pipeline from configuration. Optional
// integrations that fail to connect are logged and skipped; a corrupt
// knowledge corpus or rule pack is fatal.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, w wiring) (*app, error) {
	a := &app{}

	loc := time.UTC
	if cfg.Analysis.Timezone != "" {
		l, err := time.LoadLocation(cfg.Analysis.Timezone)
		if err != nil {
			return nil, utils.NewAppError("wire.timezone", "unknown timezone "+cfg.Analysis.Timezone, err)
		}
		loc = l
	}

	rules, err := engine.NewRulePack(cfg.Rules.Path, logger)
	if err != nil {
		return nil, utils.NewAppError("wire.rules", "load rule pack", err)
	}

	corpus, err := knowledge.LoadCorpus(cfg.Knowledge.CorpusPath)
	if err != nil {
		return nil, utils.NewAppError("wire.knowledge", "load knowledge corpus", err)
	}
	if corpus.Len() == 0 {
		logger.Warn("knowledge corpus is empty; reports will carry no documentation", slog.String("path", cfg.Knowledge.CorpusPath))
	} else {
		logger.Info("knowledge corpus loaded", slog.Int("chunks", corpus.Len()))
	}

	an := cfg.Analysis
	opts := []engine.Option{
		engine.WithRulePack(rules),
		engine.WithNormalizer(extractors.NewNormalizer(logger, loc, nil)),
		engine.WithScorer(engine.NewScorer(engine.ScorerConfig{
			MinBatchSize: an.MinBatchSize,
			Threshold:    an.AnomalyThreshold,
			Trees:        an.Forest.Trees,
			SampleSize:   an.Forest.SampleSize,
			Seed:         an.Forest.Seed,
		}, rules, logger)),
		engine.WithHealthAggregator(engine.NewHealthAggregator(engine.HealthConfig{
			HealthyThreshold:  an.Health.HealthyThreshold,
			DegradedThreshold: an.Health.DegradedThreshold,
			BenignWeight:      an.Health.BenignWeight,
			Weights: engine.SeverityWeights{
				Critical: an.Weights.Critical,
				High:     an.Weights.High,
				Medium:   an.Weights.Medium,
				Low:      an.Weights.Low,
			},
		})),
		engine.WithRetriever(knowledge.NewRetriever(corpus, knowledge.Options{
			Product:      cfg.Knowledge.Product,
			MaxQueries:   an.MaxQueries,
			MaxResults:   an.MaxResults,
			MinRelevance: an.MinRelevance,
		})),
		engine.WithComposer(prompt.NewComposer(an.MaxPromptChars)),
	}

	if w.storage && cfg.Storage.Enabled {
		store, err := repo.NewStore(repo.Config{Enabled: true, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, utils.NewAppError("wire.storage", "open report store", err)
		}
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, utils.NewAppError("wire.storage", "initialise report store", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		opts = append(opts, engine.WithReportStore(store), engine.WithMiner(patterns.NewMiner(logger, store)))
		logger.Info("report history enabled", slog.String("driver", cfg.Storage.Driver))
	}

	if w.completion {
		opts = append(opts, engine.WithCompleter(buildCompleter(ctx, cfg, logger, a)))
	}

	if w.events {
		if cfg.Events.NATSURL != "" {
			sink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.ProgressSubject, logger)
			if err != nil {
				logger.Warn("progress events disabled", slog.Any("error", err))
			} else {
				a.closers = append(a.closers, func() error { sink.Close(); return nil })
				opts = append(opts, engine.WithProgressSink(sink))
			}
		}
		if len(cfg.Events.KafkaBrokers) > 0 {
			pub, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.ReportTopic)
			if err != nil {
				logger.Warn("report publishing disabled", slog.Any("error", err))
			} else {
				a.closers = append(a.closers, pub.Close)
				opts = append(opts, engine.WithPublisher(pub))
			}
		}
	}

	a.run = engine.NewDiagnosticRun(logger, engine.RunConfig{
		Product:           cfg.Knowledge.Product,
		Model:             cfg.LLM.Model,
		CompletionTimeout: cfg.LLM.Timeout,
		MaxSampleLines:    an.MaxSampleLines,
		Location:          loc,
	}, opts...)
	return a, nil
}

// buildCompleter returns the completion client, wrapped in a response cache
// when a TTL is configured. Redis backs the cache when enabled; otherwise an
// in-process cache is used.
func buildCompleter(ctx context.Context, cfg *config.Config, logger *slog.Logger, a *app) llm.Completer {
	client := llm.NewClient(llm.Config{
		Endpoint:  cfg.LLM.Endpoint,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	})
	if cfg.LLM.Endpoint == "" {
		logger.Warn("completion endpoint not configured; reports will be degraded")
		return client
	}
	if cfg.LLM.CacheTTL <= 0 {
		return client
	}

	var provider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled {
		redisProvider, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-memory cache", slog.Any("error", err))
		} else {
			provider = redisProvider
		}
	}
	a.closers = append(a.closers, provider.Close)
	return llm.NewCachedCompleter(client, provider, cfg.LLM.CacheTTL, logger)
}

func describeApp(cfg *config.Config) string {
	return fmt.Sprintf("corpus=%q rules=%q storage=%t", cfg.Knowledge.CorpusPath, cfg.Rules.Path, cfg.Storage.Enabled)
}
