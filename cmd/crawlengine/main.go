// Command crawlengine runs the crawl scheduling and dispatch service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/agent/headless"
	"github.com/deepmedical/crawl-engine/internal/agent/static"
	"github.com/deepmedical/crawl-engine/internal/api"
	"github.com/deepmedical/crawl-engine/internal/behavior"
	"github.com/deepmedical/crawl-engine/internal/clock/system"
	"github.com/deepmedical/crawl-engine/internal/config"
	"github.com/deepmedical/crawl-engine/internal/dispatch"
	"github.com/deepmedical/crawl-engine/internal/engine"
	"github.com/deepmedical/crawl-engine/internal/frontier"
	"github.com/deepmedical/crawl-engine/internal/id/uuid"
	"github.com/deepmedical/crawl-engine/internal/logging"
	"github.com/deepmedical/crawl-engine/internal/metrics"
	"github.com/deepmedical/crawl-engine/internal/proxy"
	"github.com/deepmedical/crawl-engine/internal/publisher"
	"github.com/deepmedical/crawl-engine/internal/random"
	"github.com/deepmedical/crawl-engine/internal/relevance"
	"github.com/deepmedical/crawl-engine/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "crawlengine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	rnd := random.New()
	ids := uuid.New()

	// Semantic relevance collaborator is optional; the frontier degrades to
	// rule-based scoring without it.
	var relevanceScorer engine.RelevanceScorer
	if cfg.Relevance.Enabled {
		relevanceScorer = relevance.NewScorer(
			relevance.NewHTTPChatClient(relevance.Config{
				Endpoint: cfg.Relevance.Endpoint,
				APIKey:   cfg.Relevance.APIKey,
				Model:    cfg.Relevance.Model,
				Timeout:  cfg.Relevance.Timeout,
			}),
			logger.Named("relevance"),
		)
	}

	frontierCfg := frontier.Config{
		AuthorityDomains:   cfg.Frontier.AuthorityDomains,
		RecencyWithinWeek:  cfg.Frontier.RecencyWeights.WithinWeek,
		RecencyWithinMonth: cfg.Frontier.RecencyWeights.WithinMonth,
		RecencyWithin6Mo:   cfg.Frontier.RecencyWeights.Within6Months,
		RecencyWithinYear:  cfg.Frontier.RecencyWeights.WithinYear,
		RecencyOlder:       cfg.Frontier.RecencyWeights.Older,
		ContentWeights:     cfg.Frontier.ContentWeights,
		ContentKeywords:    cfg.Frontier.ContentKeywords,
		MaxContentScore:    cfg.Frontier.MaxContentScore,
		DefaultDomainScore: cfg.Frontier.DefaultDomainScore,
		MaxRetries:         cfg.Frontier.MaxRetries,
		PenaltyPerRetry:    cfg.Frontier.PenaltyPerRetry,
	}
	scorer := frontier.NewScorer(frontierCfg, relevanceScorer, clock, logger.Named("scorer"))
	front := frontier.New(frontierCfg, scorer, clock, logger.Named("frontier"))
	if err := front.LoadState(cfg.Frontier.StateFile); err != nil {
		return fmt.Errorf("load frontier state: %w", err)
	}

	sources, db, err := buildProxySources(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	pool := proxy.NewPool(proxy.Config{
		CheckInterval: cfg.Proxy.CheckInterval,
		MaxProxies:    cfg.Proxy.MaxProxies,
		MinimumScore:  cfg.Proxy.MinimumScore,
		StateFile:     cfg.Proxy.StateFile,
	}, sources, clock, rnd, logger.Named("proxy"))
	if err := pool.LoadState(cfg.Proxy.StateFile); err != nil {
		return fmt.Errorf("load proxy state: %w", err)
	}

	checker := proxy.NewChecker(pool, logger.Named("proxy-health"))
	if pool.NeedsReload() {
		checker.Reload(ctx)
	}
	go checker.Run(ctx)

	pub, pubCleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pubCleanup()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	staticAgent := static.New(cfg.Agents.UserAgent, logger.Named("static"))
	var headlessAgent engine.FetchAgent
	if cfg.Agents.Headless.Enabled {
		headlessAgent = headless.New(headless.Config{
			UserAgent:   cfg.Agents.UserAgent,
			MaxParallel: cfg.Agents.Headless.MaxParallel,
			DomainQPS:   cfg.Agents.Headless.DomainQPS,
		}, logger.Named("headless"))
	}

	dispatcher := dispatch.New(dispatch.Config{
		MaxConcurrentTasks: cfg.Dispatcher.MaxConcurrentTasks,
		IdleWait:           cfg.Dispatcher.IdleWait,
		StopTimeout:        cfg.Dispatcher.StopTimeout,
		BaseTimeout:        time.Duration(cfg.Dispatcher.BaseTimeoutSeconds) * time.Second,
		MaxDiscoveredLinks: cfg.Dispatcher.MaxDiscoveredLinks,
		ResultTopic:        cfg.Publisher.TopicName,
		ContentPrefix:      cfg.Dispatcher.ContentPrefix,
	}, dispatch.Deps{
		Frontier:      front,
		Pool:          pool,
		Behavior:      behavior.NewGenerator(clock, rnd, logger.Named("behavior")),
		StaticAgent:   staticAgent,
		HeadlessAgent: headlessAgent,
		Publisher:     pub,
		Store:         store,
		Clock:         clock,
		Rand:          rnd,
		IDs:           ids,
		Logger:        logger.Named("dispatch"),
	})

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	server := api.New(cfg.Server.Port, dispatcher, front, pool, logger.Named("api"))
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("api server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stop failed", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", zap.Error(err))
	}
	if err := front.SaveState(cfg.Frontier.StateFile); err != nil {
		logger.Warn("frontier state save failed", zap.Error(err))
	}
	if err := pool.SaveState(cfg.Proxy.StateFile); err != nil {
		logger.Warn("proxy state save failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func buildProxySources(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]proxy.Source, *pgxpool.Pool, error) {
	var sources []proxy.Source
	var db *pgxpool.Pool

	for _, src := range cfg.Proxy.Sources {
		switch src.Type {
		case "file":
			sources = append(sources, proxy.NewFileSource(src.Name, src.Path))
		case "http":
			sources = append(sources, proxy.NewHTTPSource(src.Name, src.URL))
		case "database":
			if db == nil {
				if cfg.DB.DSN == "" {
					return nil, nil, fmt.Errorf("proxy source %q requires db.dsn", src.Name)
				}
				pool, err := pgxpool.New(ctx, cfg.DB.DSN)
				if err != nil {
					return nil, nil, fmt.Errorf("connect proxy database: %w", err)
				}
				db = pool
			}
			sources = append(sources, proxy.NewDatabaseSource(src.Name, db))
		default:
			logger.Warn("unknown proxy source type skipped",
				zap.String("name", src.Name), zap.String("type", src.Type))
		}
	}
	return sources, db, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (engine.Publisher, func(), error) {
	switch cfg.Publisher.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := publisher.NewPubSub(client, logger.Named("publisher"))
		return pub, func() {
			pub.Stop()
			_ = client.Close()
		}, nil
	default:
		return publisher.NewMemory(), func() {}, nil
	}
}

func buildStore(ctx context.Context, cfg config.Config) (engine.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storage.NewGCS(client, cfg.Storage.GCSBucket), nil
	case "local":
		return storage.NewLocal(cfg.Storage.BaseDir), nil
	default:
		return storage.NewMemory(), nil
	}
}
