package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/backsim/internal/config"
	"github.com/rickgao/backsim/internal/database"
	"github.com/rickgao/backsim/internal/datasource"
	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/metrics"
	"github.com/rickgao/backsim/internal/replay"
	"github.com/rickgao/backsim/internal/router"
	"github.com/rickgao/backsim/internal/server"
	"github.com/rickgao/backsim/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured level is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting backsim server",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"listen", fmt.Sprintf("%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.Path),
		"tables", len(cfg.Replay.Tables),
		"default_table", cfg.Replay.DefaultTable,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	conv, err := defaultConverter(cfg.Replay)
	if err != nil {
		logger.Error("invalid default table", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	source := datasource.NewPostgres(pool, cfg.Replay.Tables, logger)
	runner := replay.NewRunner(source, m, logger)
	rt := router.New(source, runner, m, logger)
	srv := server.New(cfg.Server, rt, conv, m, logger)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsHandler(cfg.Metrics.Path, m),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", metricsSrv.Addr, "path", cfg.Metrics.Path)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// defaultConverter builds the time representation new connections adopt,
// taken from the configured default table.
func defaultConverter(cfg config.ReplayConfig) (epoch.Converter, error) {
	for _, tc := range cfg.Tables {
		if tc.Name != cfg.DefaultTable {
			continue
		}
		unit, err := epoch.ParseUnit(tc.EpochUnit)
		if err != nil {
			return epoch.Converter{}, fmt.Errorf("table %s: %w", tc.Name, err)
		}
		return epoch.New(unit, tc.Timezone)
	}
	return epoch.Converter{}, fmt.Errorf("default table %q is not declared", cfg.DefaultTable)
}

func metricsHandler(path string, m *metrics.Metrics) http.Handler {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return mux
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
