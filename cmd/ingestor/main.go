package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pricelens/ingestor/internal/aggregator"
	"github.com/pricelens/ingestor/internal/backendsync"
	"github.com/pricelens/ingestor/internal/config"
	"github.com/pricelens/ingestor/internal/db"
	"github.com/pricelens/ingestor/internal/pipeline"
	"github.com/pricelens/ingestor/internal/provideradapter"
	"github.com/pricelens/ingestor/internal/scheduler"
	"github.com/pricelens/ingestor/internal/websearch"
)

// Exit codes: 0 success, 1 config/setup error, 2 unrecoverable runtime
// error from a --once run.
func main() {
	fs := flag.NewFlagSet("ingestor", flag.ContinueOnError)
	once := fs.Bool("once", false, "run a single pipeline iteration and exit instead of looping")
	if errParse := fs.Parse(os.Args[1:]); errParse != nil {
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("config load failed")
		os.Exit(1)
	}
	setLogLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched, errSetup := buildScheduler(cfg)
	if errSetup != nil {
		log.WithError(errSetup).Error("ingestor setup failed")
		os.Exit(1)
	}

	if errRun := sched.Run(ctx, *once); errRun != nil {
		log.WithError(errRun).Error("ingestor run failed")
		os.Exit(2)
	}
}

func setLogLevel(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// buildScheduler wires the pricing store, optional backend store, and the
// pipeline/backendsync components behind the scheduler.
func buildScheduler(cfg *config.Config) (*scheduler.Scheduler, error) {
	pricingDB, err := db.Open(cfg.PricingStoreURL)
	if err != nil {
		return nil, fmt.Errorf("open pricing store: %w", err)
	}
	if err := db.MigratePricingStore(pricingDB); err != nil {
		return nil, fmt.Errorf("migrate pricing store: %w", err)
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	aggClient := aggregator.NewClient(cfg.AggregatorURL, cfg.AggregatorKey,
		aggregator.WithPaths(cfg.AggregatorModelsPath, cfg.AggregatorProvidersPath, cfg.AggregatorCompletionsPath),
		aggregator.WithTimeout(requestTimeout))
	registry := provideradapter.NewRegistry(websearch.NewFunc(cfg.WebSearchKey, requestTimeout), cfg.TrustedPricingDomains)

	p := pipeline.New(pricingDB, aggClient, registry, cfg)

	var backend *backendsync.Syncer
	if cfg.BackendSyncEnabled() {
		backendDB, err := db.Open(cfg.BackendStoreURL)
		if err != nil {
			return nil, fmt.Errorf("open backend store: %w", err)
		}
		if err := db.MigrateBackendStore(backendDB); err != nil {
			return nil, fmt.Errorf("migrate backend store: %w", err)
		}
		backend = backendsync.New(pricingDB, backendDB, cfg)
	}

	return scheduler.New(p, backend, cfg), nil
}
