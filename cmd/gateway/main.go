// The gateway is the ingest front door: it validates incoming reports,
// persists them to the Postgres catalog, and publishes events to the
// report-ingest topic for the searcher's embedded indexer to apply.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/medsearch/medsearch/internal/catalog"
	"github.com/medsearch/medsearch/internal/ingestion"
	"github.com/medsearch/medsearch/internal/server"
	"github.com/medsearch/medsearch/pkg/config"
	"github.com/medsearch/medsearch/pkg/health"
	"github.com/medsearch/medsearch/pkg/kafka"
	"github.com/medsearch/medsearch/pkg/logger"
	"github.com/medsearch/medsearch/pkg/metrics"
	"github.com/medsearch/medsearch/pkg/postgres"
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
	log := logger.WithComponent("gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		log.Error("connecting to postgres failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	cat, err := catalog.New(ctx, pg)
	if err != nil {
		log.Error("initializing report catalog failed", "error", err)
		os.Exit(1)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReportIngest)
	defer producer.Close()

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	svc := server.NewIngestService(ingestion.NewPublisher(cat, producer), checker)
	srv := server.NewServer(cfg.Server, svc.Routes(), m)

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
