package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"marketsync/internal/aws"
	"marketsync/internal/bootstrap"
	"marketsync/internal/cache"
	"marketsync/internal/config"
	"marketsync/internal/controller"
	"marketsync/internal/database"
	"marketsync/internal/rabbitmq"
)

// The worker consumes and executes jobs without serving HTTP. Run as many
// as needed; the store-backed concurrency ceiling holds across all of them.
func main() {
	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Logging)

	log.Info().Str("env", cfg.Env).Msg("Starting marketsync worker")

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer db.Close(context.Background())

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisCache.Close()

	rabbit, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer rabbit.Close()

	feed, err := aws.NewFeedService(cfg.Feed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize feed service")
	}

	registry := bootstrap.BuildRunnerRegistry(cfg, db, redisCache, feed)

	jc := controller.NewJobController(db, rabbit, cfg.Jobs, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jc.ProcessJobs(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job processing")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down, waiting for in-flight jobs...")
	cancel()
	jc.StopProcessing()
	log.Info().Msg("Worker stopped")
}

func setupLogger(config config.LoggingConfig) {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch config.Format {
	case "json":
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	log.Logger = log.With().Timestamp().Logger()
}
