// Package server exposes the optional status endpoint: health, scan
// statistics and a live job event stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-service/internal/http/handlers/events"
	"github.com/princekumarofficial/transcode-service/internal/http/handlers/status"
	"github.com/princekumarofficial/transcode-service/internal/http/middleware"
	"github.com/princekumarofficial/transcode-service/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

type Deps struct {
	Source status.Source
	// Hub and Redis are optional
	Hub    *websocket.Hub
	Redis  *redis.Client
	Token  string
	Logger *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	router := http.NewServeMux()
	auth := middleware.RequireToken(d.Token)

	var watchers status.WatcherCounter
	if d.Hub != nil {
		watchers = d.Hub
	}

	router.HandleFunc("GET /healthz", status.Health())
	router.Handle("GET /stats", auth(status.Stats(d.Source, d.Redis, watchers)))
	if d.Hub != nil {
		router.Handle("GET /events", auth(events.Stream(d.Hub, d.Logger)))
	}
	return router
}

// Run serves handler on addr until ctx ends, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server started", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("status server stopped")
	return nil
}
