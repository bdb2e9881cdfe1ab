// Package bootstrap wires the reconciliation stack shared by the API and
// the headless worker.
package bootstrap

import (
	"time"

	"github.com/rs/zerolog/log"

	"marketsync/internal/aws"
	"marketsync/internal/cache"
	"marketsync/internal/catalog"
	"marketsync/internal/config"
	"marketsync/internal/database"
	"marketsync/internal/marketplace"
	"marketsync/internal/orchestrator"
	"marketsync/internal/ratelimit"
	"marketsync/internal/recon"
)

const lookupTTL = 24 * time.Hour

// BuildAdapters constructs one adapter per configured marketplace, all
// sharing a single rate gate so API budgets hold process-wide.
func BuildAdapters(cfg *config.Config) marketplace.Registry {
	gate := ratelimit.NewGate(20, 10*time.Second)

	registry := make(marketplace.Registry)
	for tag, mpCfg := range cfg.Marketplaces {
		gate.Configure(tag, mpCfg.RateLimit.Capacity, time.Duration(mpCfg.RateLimit.PeriodSeconds)*time.Second)

		switch tag {
		case "trendyol":
			registry[tag] = marketplace.NewTrendyolAdapter(mpCfg, gate)
		case "n11":
			registry[tag] = marketplace.NewN11Adapter(mpCfg, gate)
		default:
			log.Warn().Str("marketplace", tag).Msg("No adapter implementation, skipping")
		}
	}

	return registry
}

// BuildRunnerRegistry assembles the engine and the job runners
func BuildRunnerRegistry(cfg *config.Config, db database.Database, redisCache cache.Cache, feed aws.FeedService) orchestrator.RunnerRegistry {
	adapters := BuildAdapters(cfg)

	brands := cache.NewLookupCache(redisCache, marketplace.BrandResolver(adapters), "brand", lookupTTL)
	categories := cache.NewLookupCache(redisCache, marketplace.CategoryResolver(adapters), "category", lookupTTL)

	engine := recon.NewEngine(
		db,
		db,
		db,
		adapters,
		redisCache,
		brands,
		categories,
		recon.MarkupPricing(cfg.Marketplaces),
		cfg.Jobs,
		cfg.Marketplaces,
	)

	loader := catalog.NewLoader(feed)

	return orchestrator.NewRunnerRegistry(
		orchestrator.NewCatalogSyncRunner(loader, engine, feed),
		orchestrator.NewMirrorRefreshRunner(db, db, adapters),
	)
}
