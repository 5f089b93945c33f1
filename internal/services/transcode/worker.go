package transcode

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the worker poll interval when none is given.
const DefaultInterval = 10 * time.Second

// Worker polls the tables on a fixed interval.
type Worker struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewWorker(service *Service, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start sweeps stale claims, scans immediately, then scans on every tick
// until ctx is cancelled. With once set it returns after the first scan.
// Ticks that fire while a scan is running are dropped.
func (w *Worker) Start(ctx context.Context, once bool) {
	w.logger.Info("transcode worker started", "interval", w.interval.String(), "once", once)

	w.service.SweepStale(ctx)
	w.service.ScanWorker(ctx)
	if once {
		w.logger.Info("single pass complete")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("transcode worker shutting down")
			return
		case <-ticker.C:
			w.service.ScanWorker(ctx)
		}
	}
}
