package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/db"
	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/monitoring"
	"github.com/sells-group/prospect-cli/internal/persist"
	"github.com/sells-group/prospect-cli/internal/pipeline"
	"github.com/sells-group/prospect-cli/internal/scorer"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

// pipelineEnv holds the storage tiers and the restored pipeline used by
// every command.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Store    *persist.Manager
	Restored pipeline.RestoreReport
	Monitor  *monitoring.Collector
	closers  []func()
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Pipeline != nil {
		pe.Pipeline.Wait()
	}
	for i := len(pe.closers) - 1; i >= 0; i-- {
		pe.closers[i]()
	}
}

// initPipeline opens the storage tiers, builds the pipeline, and restores the
// account's state. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	env := &pipelineEnv{}

	durable, err := persist.NewSQLiteKV(ctx, cfg.Persist.DurablePath)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, func() { _ = durable.Close() })

	remote, err := initRemote(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Store = persist.NewManager(cfg.Account.ID, persist.Tiers{
		Session: persist.NewMemoryKV(),
		Durable: durable,
		Remote:  remote,
	}, persist.OptionsFromConfig(cfg.Persist))

	env.Monitor = monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.LookbackWindowHours)*time.Hour)

	client := discovery.NewClient(cfg.Discovery.Key,
		discovery.WithBaseURL(cfg.Discovery.BaseURL),
		discovery.WithRateLimit(cfg.Discovery.RateLimit),
	)
	ic := cfg.Ingest
	deps := pipeline.Deps{
		Searcher: ingest.NewController(client, ingest.Config{
			FlushInterval:       time.Duration(ic.FlushIntervalMs) * time.Millisecond,
			MaxAttempts:         ic.MaxAttempts,
			InitialBackoff:      time.Duration(ic.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:          time.Duration(ic.MaxBackoffMs) * time.Millisecond,
			PartialThresholdPct: ic.PartialThresholdPct,
		}),
		Store:    env.Store,
		Scorer:   scorer.NewRuleScorer(cfg.Scorer),
		Social:   persist.NewSocialCache(durable, cfg.Account.ID),
		Outcomes: env.Monitor,
	}
	if cfg.Enrichment.Enabled {
		deps.Enricher = client
	}
	env.Pipeline = pipeline.New(deps, pipeline.Options{
		DefaultCount:      ic.DefaultCount,
		EnrichCallbackURL: cfg.Enrichment.CallbackURL,
		EnrichBatchSize:   cfg.Enrichment.BatchSize,
	})

	report, err := env.Pipeline.Restore(ctx, cfg.Account.Credential)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Restored = report
	return env, nil
}

// initRemote builds the configured remote backup tier, or nil for "none".
func initRemote(ctx context.Context, env *pipelineEnv) (persist.Remote, error) {
	rc := cfg.Persist.Remote
	switch rc.Driver {
	case "postgres":
		pool, closePool, err := db.Connect(ctx, rc.DatabaseURL, &db.PoolConfig{MaxConns: rc.MaxConns})
		if err != nil {
			return nil, eris.Wrap(err, "init postgres remote")
		}
		env.closers = append(env.closers, closePool)
		pr := persist.NewPostgresRemote(pool)
		if err := pr.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate postgres remote")
		}
		return pr, nil
	case "azblob":
		br, err := persist.NewBlobRemote(rc.AzBlob.ConnectionString, rc.AzBlob.Container)
		if err != nil {
			return nil, eris.Wrap(err, "init azblob remote")
		}
		if err := br.EnsureContainer(ctx); err != nil {
			return nil, eris.Wrap(err, "ensure azblob container")
		}
		return br, nil
	default:
		zap.L().Debug("no remote backup configured")
		return nil, nil
	}
}
