package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/corpusnext/papersearch/internal/engine"
	"github.com/corpusnext/papersearch/internal/events"
	"github.com/corpusnext/papersearch/internal/server"
	"github.com/corpusnext/papersearch/pkg/config"
	"github.com/corpusnext/papersearch/pkg/health"
	"github.com/corpusnext/papersearch/pkg/kafka"
	"github.com/corpusnext/papersearch/pkg/logger"
	"github.com/corpusnext/papersearch/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index_dir", cfg.Index.Dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var collector *events.Collector
	if cfg.Events.Enabled {
		producer := kafka.NewProducer(cfg.Events)
		collector = events.NewCollector(producer, 10000)
		collector.Start(ctx)
		defer func() {
			collector.Close()
			producer.Close()
		}()
		slog.Info("usage event stream enabled", "topic", cfg.Events.Topic)
	}

	eng := engine.New(cfg, m, collector)
	if err := eng.Reload(); err != nil {
		slog.Error("initial index load failed", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if n := eng.SegmentCount(); n > 0 {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d segments loaded", n)}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no segments"}
	})

	handler := server.NewHandler(eng, cfg.Search.DefaultK)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(handler, checker, m, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	slog.Info("search service stopped")
}
