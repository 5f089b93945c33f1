package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/princekumarofficial/transcode-service/internal/app"
	"github.com/princekumarofficial/transcode-service/internal/config"
	"github.com/princekumarofficial/transcode-service/internal/logger"
	"github.com/princekumarofficial/transcode-service/internal/services/transcode"
)

func main() {
	os.Exit(app.ExitCode(run()))
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to CONFIG_PATH)")
	intervalMS := flag.Int("intervalms", int(transcode.DefaultInterval/time.Millisecond), "poll interval in milliseconds")
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	log := logger.New(cfg.LogLevel)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.Options{ServeStatus: !*once})
	if err != nil {
		log.Error("startup failed", "error", err.Error())
		return err
	}
	defer a.Close()

	err = a.RunWorker(ctx, time.Duration(*intervalMS)*time.Millisecond, *once)

	log.Info("transcode worker stopped")
	return err
}
