// The searcher owns the index store and serves the query API. It embeds the
// Kafka consumer that applies ingest events, runs the background compaction
// loop, and exposes admin, health, and metrics endpoints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/medsearch/medsearch/internal/cache"
	"github.com/medsearch/medsearch/internal/catalog"
	"github.com/medsearch/medsearch/internal/indexer"
	"github.com/medsearch/medsearch/internal/ingestion"
	"github.com/medsearch/medsearch/internal/normalizer"
	"github.com/medsearch/medsearch/internal/planner"
	"github.com/medsearch/medsearch/internal/retrieval"
	"github.com/medsearch/medsearch/internal/server"
	"github.com/medsearch/medsearch/internal/store"
	"github.com/medsearch/medsearch/pkg/config"
	"github.com/medsearch/medsearch/pkg/health"
	"github.com/medsearch/medsearch/pkg/kafka"
	"github.com/medsearch/medsearch/pkg/logger"
	"github.com/medsearch/medsearch/pkg/metrics"
	"github.com/medsearch/medsearch/pkg/postgres"
	"github.com/medsearch/medsearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config failed", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("searcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	idx, err := store.Open(cfg.Index)
	if err != nil {
		log.Error("opening index store failed", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	norm := normalizer.New(normalizer.Config{
		MinTokenLength: cfg.Normalizer.MinTokenLength,
		Stemming:       cfg.Normalizer.Stemming,
		StopWords:      cfg.Normalizer.StopWords,
		Abbreviations:  cfg.Normalizer.Abbreviations,
	})

	checker := health.NewChecker()
	checker.Register("index-store", func(ctx context.Context) health.ComponentHealth {
		if _, err := idx.CorpusStats(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	// Redis and Postgres are optional at startup: the query path degrades to
	// uncached, reindex to unavailable.
	var qc *cache.QueryCache
	if rdb, err := redis.NewClient(cfg.Redis); err != nil {
		log.Warn("redis unavailable, queries run uncached", "error", err)
		qc = cache.New(nil, cfg.Redis.CacheTTL, m)
	} else {
		defer rdb.Close()
		qc = cache.New(rdb, cfg.Redis.CacheTTL, m)
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := rdb.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	var reports indexer.ReportSource
	var statusRecorder ingestion.StatusRecorder
	if pg, err := postgres.New(cfg.Postgres); err != nil {
		log.Warn("postgres unavailable, reindex disabled", "error", err)
	} else {
		defer pg.Close()
		cat, err := catalog.New(ctx, pg)
		if err != nil {
			log.Error("initializing report catalog failed", "error", err)
			os.Exit(1)
		}
		reports = cat
		statusRecorder = cat
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pg.DB.PingContext(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	ix := indexer.New(idx, norm, m)
	svc := server.NewSearchService(
		planner.New(idx, norm, cfg.Search),
		retrieval.New(idx, norm, cfg.Search, m),
		ix,
		reports,
		qc,
		checker,
		m,
		cfg.Search,
		cfg.Index,
	)
	srv := server.NewServer(cfg.Server, svc.Routes(), m)

	handler := ingestion.NewHandler(ix, statusRecorder, qc)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ReportIngest, handler.Handle)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error("ingest consumer stopped", "error", err)
		}
	}()
	go ix.CompactLoop(ctx, cfg.Index.CompactInterval)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}
