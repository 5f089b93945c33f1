package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/princekumarofficial/transcode-service/internal/app"
	"github.com/princekumarofficial/transcode-service/internal/config"
	"github.com/princekumarofficial/transcode-service/internal/logger"
)

func main() {
	os.Exit(app.ExitCode(run()))
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to CONFIG_PATH)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Error("startup failed", "error", err.Error())
		return err
	}
	defer a.Close()

	a.Service.SweepStale(ctx)
	stats := a.Service.ScanBatch(ctx)

	if ctx.Err() != nil {
		log.Warn("batch interrupted", "scanned", stats.Scanned)
		return ctx.Err()
	}
	log.Info("batch finished",
		"scanned", stats.Scanned,
		"done", stats.Done,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"inconsistent", stats.Inconsistent,
	)
	return nil
}
