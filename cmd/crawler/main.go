package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/internal/guardian"
	"github.com/domaintensor/crawler/internal/keypool"
	"github.com/domaintensor/crawler/internal/logger"
	"github.com/domaintensor/crawler/internal/provider"
	"github.com/domaintensor/crawler/internal/queue"
	"github.com/domaintensor/crawler/internal/rategovernor"
	"github.com/domaintensor/crawler/internal/storage"
	"github.com/domaintensor/crawler/internal/store"
	"github.com/domaintensor/crawler/internal/supervisor"
	"github.com/domaintensor/crawler/internal/worker"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(true); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting domain tensor crawler")

	db, err := storage.NewPostgresDB(&cfg.Database, logger.Log)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	domainQueue := queue.NewDomainQueue(db)
	responseStore := store.NewResponseStore(db, cfg.Store.MinuteBucket)

	baseURLs := make(map[string]string, len(cfg.Providers))
	keysByProvider := make(map[string][]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		baseURLs[p.Name] = p.BaseURL
		keysByProvider[p.Name] = p.Keys
	}
	adapters := provider.NewRegistry(baseURLs)
	keyRegistry := keypool.NewRegistry(keysByProvider, cfg.KeyPool.Quarantine, cfg.KeyPool.Cooldown, logger.With("keypool"))
	governorRegistry := rategovernor.NewRegistryFromConfig(cfg.Providers, cfg.Rate)

	modelsByProvider := make(map[string][]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		modelsByProvider[p.Name] = p.Models
	}
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), cfg.Worker.DomainDeadline)
	probeErr := provider.ProbeModels(probeCtx, adapters, modelsByProvider, func(ctx context.Context, name string) (string, error) {
		handout, err := keyRegistry.For(name).Next(ctx)
		if err != nil {
			return "", err
		}
		return handout.Key, nil
	})
	cancelProbe()
	if probeErr != nil {
		logger.Fatal("startup model probe failed", zap.Error(probeErr))
	}

	newWorker := func() *worker.Worker {
		return worker.New(worker.Deps{
			Queue:     domainQueue,
			Store:     responseStore,
			Adapters:  adapters,
			Keys:      keyRegistry,
			Governors: governorRegistry,
			Config:    cfg,
			Log:       logger.With("worker"),
		})
	}

	coverageGuardian := guardian.New(guardian.Deps{
		Queue:  domainQueue,
		Store:  responseStore,
		Keys:   keyRegistry,
		Config: cfg,
		Log:    logger.With("guardian"),
	})

	super := supervisor.New(supervisor.Deps{
		Queue:     domainQueue,
		Guardian:  coverageGuardian,
		NewWorker: newWorker,
		Config:    cfg,
		Log:       logger.With("supervisor"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("supervisor running", zap.Int("workers", cfg.Worker.Count))
	super.Run(ctx)
}
