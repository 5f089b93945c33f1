// Package app wires configuration into a ready transcode service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-service/internal/config"
	"github.com/princekumarofficial/transcode-service/internal/encoder"
	"github.com/princekumarofficial/transcode-service/internal/events"
	"github.com/princekumarofficial/transcode-service/internal/fetch"
	"github.com/princekumarofficial/transcode-service/internal/ffmpeg"
	"github.com/princekumarofficial/transcode-service/internal/http/server"
	"github.com/princekumarofficial/transcode-service/internal/lease"
	"github.com/princekumarofficial/transcode-service/internal/logger"
	"github.com/princekumarofficial/transcode-service/internal/objectstore"
	"github.com/princekumarofficial/transcode-service/internal/services/transcode"
	"github.com/princekumarofficial/transcode-service/internal/storage"
	"github.com/princekumarofficial/transcode-service/internal/storage/postgres"
	"github.com/princekumarofficial/transcode-service/internal/storage/rest"
	"github.com/princekumarofficial/transcode-service/internal/websocket"
	"golang.org/x/sync/errgroup"
)

// encoderCheckTimeout bounds the encoder lookup and version check.
const encoderCheckTimeout = 10 * time.Second

// StoreFactory opens the row store. The returned close func may be nil.
type StoreFactory func(ctx context.Context, cfg *config.Config) (storage.Storage, func() error, error)

type Options struct {
	// Locator defaults to one built from cfg.Encoder
	Locator *encoder.Locator
	// Store defaults to DefaultStore
	Store StoreFactory
	// HTTPClient is used for source downloads
	HTTPClient *http.Client
	// ServeStatus is set by callers that will run RunStatus. The event hub
	// is only built for them.
	ServeStatus bool
}

type App struct {
	Config  *config.Config
	Service *transcode.Service

	hub     *websocket.Hub
	redis   *redis.Client
	logger  *slog.Logger
	closers []func() error
}

// Build resolves the encoder before anything else; when it cannot be found
// or does not run, no store or client is constructed.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	locator := opts.Locator
	if locator == nil {
		locator = encoder.NewLocator(cfg.Encoder.Bin, cfg.Encoder.BundleDir)
	}
	checkCtx, cancel := context.WithTimeout(ctx, encoderCheckTimeout)
	defer cancel()
	encoderPath, err := locator.Locate(checkCtx)
	if err != nil {
		return nil, err
	}
	version, err := locator.Verify(checkCtx, encoderPath)
	if err != nil {
		return nil, err
	}
	log.Info("encoder ready", "path", encoderPath, "version", version)

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	a := &App{Config: cfg, logger: log}

	openStore := opts.Store
	if openStore == nil {
		openStore = DefaultStore
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	uploader, err := newUploader(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		leaser    lease.Leaser     = lease.Nop{}
		publisher events.Publisher = events.Nop{}
	)
	if opts.ServeStatus && cfg.StatusAddr != "" {
		a.hub = websocket.NewHub(logger.Subsystem(log, "events"))
		publisher = a.hub
	}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, leases and events will be retried per job", "addr", cfg.Redis.Addr, "error", err)
		}
		leaser = lease.NewRedisLeaser(a.redis)
		publisher = events.NewRedisPublisher(a.redis)
	}

	a.Service = transcode.NewService(
		store,
		fetch.NewFetcher(opts.HTTPClient),
		ffmpeg.NewInvoker(encoderPath, logger.Subsystem(log, "ffmpeg")),
		uploader,
		transcode.Options{
			Tables:           cfg.Tables,
			DestColumn:       cfg.Transcode.DestColumn,
			ScratchDir:       cfg.Transcode.ScratchDir,
			BatchSize:        cfg.Transcode.WorkerBatchSize,
			FetchTimeout:     cfg.Transcode.FetchTimeout,
			TranscodeTimeout: cfg.Transcode.TranscodeTimeout,
			UploadTimeout:    cfg.Transcode.UploadTimeout,
			DBTimeout:        cfg.Transcode.DBTimeout,
			StaleAfter:       cfg.Transcode.StaleAfter,
		},
		logger.Subsystem(log, "transcode"),
		transcode.WithLeaser(leaser),
		transcode.WithPublisher(publisher),
	)
	a.Service.ResolveTables(ctx)

	return a, nil
}

// DefaultStore uses a direct Postgres connection when DATABASE_URL is set
// and the Supabase REST interface otherwise.
func DefaultStore(ctx context.Context, cfg *config.Config) (storage.Storage, func() error, error) {
	if cfg.Database.DSN != "" {
		pg, err := postgres.NewPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	client, err := rest.NewClient(cfg.Supabase.URL, cfg.ActiveKey())
	if err != nil {
		return nil, nil, err
	}
	return client, nil, nil
}

func newUploader(cfg *config.Config) (objectstore.Uploader, error) {
	if cfg.S3.Endpoint != "" {
		s3, err := objectstore.NewS3Storage(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("create s3 uploader: %w", err)
		}
		return s3, nil
	}
	return objectstore.NewSupabaseStorage(cfg.Supabase.URL, cfg.ActiveKey()), nil
}

// RunStatus serves the status endpoint until ctx ends. It returns
// immediately unless the app was built with ServeStatus and a status
// address.
func (a *App) RunStatus(ctx context.Context) error {
	if a.hub == nil {
		return nil
	}

	go a.hub.Run(ctx)
	if a.redis != nil {
		go func() {
			if err := events.Relay(ctx, a.redis, a.hub.Broadcast); err != nil {
				a.logger.Warn("event relay stopped", "error", err)
			}
		}()
	}

	router := server.NewRouter(server.Deps{
		Source: a.Service,
		Hub:    a.hub,
		Redis:  a.redis,
		Token:  a.Config.StatusToken,
		Logger: logger.Subsystem(a.logger, "status"),
	})
	return server.Run(ctx, a.Config.StatusAddr, router, logger.Subsystem(a.logger, "status"))
}

// RunWorker polls on interval until ctx ends, or after one scan with once,
// while serving the status endpoint. It returns after both have stopped.
func (a *App) RunWorker(ctx context.Context, interval time.Duration, once bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.RunStatus(gctx); err != nil {
			a.logger.Error("status server failed", "error", err.Error())
		}
		return nil
	})
	g.Go(func() error {
		worker := transcode.NewWorker(a.Service, interval, logger.Subsystem(a.logger, "worker"))
		worker.Start(gctx, once)
		cancel()
		return nil
	})
	return g.Wait()
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ExitCode maps a run error onto the process exit status.
func ExitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}
