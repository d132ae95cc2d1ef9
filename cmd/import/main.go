// Command glucose-import loads a directory of glucose-monitor CSV exports
// into the configured store.
//
//	glucose-import --dir ./exports
//
// Storage and logging come from the same configuration as the server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/gnuflag"

	"github.com/sakif/glucose-api/internal/config"
	"github.com/sakif/glucose-api/internal/importer"
	"github.com/sakif/glucose-api/internal/metrics"
	"github.com/sakif/glucose-api/internal/server"
	"github.com/sakif/glucose-api/internal/service"
)

func main() {
	flags := gnuflag.NewFlagSet("glucose-import", gnuflag.ExitOnError)
	dir := flags.String("dir", "exports", "directory containing one CSV export per user")
	flags.Parse(true, os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	if err := run(logger, cfg, *dir); err != nil {
		logger.Error("import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.Config, dir string) error {
	store, err := server.OpenStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	levels := service.NewLevelService(store, cfg.PageSize, collector, logger)

	sum, err := importer.New(levels, logger).ImportDir(ctx, dir)
	logger.Info("import finished",
		slog.String("dir", dir),
		slog.Int("files", sum.Files),
		slog.Int("readings", sum.Readings),
		slog.Int("created", int(collector.Upserts(metrics.ObjectReading, metrics.OutcomeCreated))),
		slog.Int("updated", int(collector.Upserts(metrics.ObjectReading, metrics.OutcomeUpdated))),
	)
	return err
}
