package transcode

import (
	"context"
	"time"
)

// Stats summarizes one scan across all tables.
type Stats struct {
	Mode         Mode          `json:"mode"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Scanned      int           `json:"scanned"`
	Done         int           `json:"done"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Inconsistent int           `json:"inconsistent"`
	TableErrors  int           `json:"table_errors"`
}

func (st *Stats) add(res Result) {
	switch {
	case res.Inconsistent:
		st.Inconsistent++
	case res.OK:
		st.Done++
	case res.Skipped:
		st.Skipped++
	default:
		st.Failed++
	}
}

// ScanBatch processes every eligible row of every table once, including
// rows an earlier run left failed.
func (s *Service) ScanBatch(ctx context.Context) Stats {
	return s.scan(ctx, ModeBatch, 0)
}

// ScanWorker processes at most BatchSize fresh or pending rows per table.
func (s *Service) ScanWorker(ctx context.Context) Stats {
	return s.scan(ctx, ModeWorker, s.opts.BatchSize)
}

func (s *Service) scan(ctx context.Context, mode Mode, limit int) Stats {
	st := Stats{Mode: mode, StartedAt: s.now()}

	for _, table := range s.Tables() {
		if ctx.Err() != nil {
			break
		}
		log := s.logger.With("table", table.Name, "mode", string(mode))

		// Failed rows of a status-less table still match the query, so a
		// bounded scan fetches past them.
		var known map[string]struct{}
		fetch := limit
		if mode == ModeWorker && !table.HasStatus() {
			known = s.unprocessable(table.Name)
			if fetch > 0 {
				fetch += len(known)
			}
		}

		dbCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
		records, err := s.store.ListCandidates(dbCtx, table, mode.claimable(), fetch)
		cancel()
		if err != nil {
			log.Error("listing candidates failed", "error", err)
			st.TableErrors++
			continue
		}
		if len(records) > 0 {
			log.Info("candidates found", "count", len(records))
		}

		processed := 0
		for _, rec := range records {
			if ctx.Err() != nil || (limit > 0 && processed == limit) {
				break
			}
			if _, failed := known[rec.ID]; failed || !rec.Eligible(mode.claimable()) {
				continue
			}
			processed++
			st.Scanned++
			st.add(s.ProcessRow(ctx, table, rec, mode))
		}
	}

	st.Duration = s.now().Sub(st.StartedAt)
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()

	s.logger.Info("scan complete",
		"mode", string(mode),
		"scanned", st.Scanned,
		"done", st.Done,
		"failed", st.Failed,
		"skipped", st.Skipped,
		"inconsistent", st.Inconsistent,
		"duration", st.Duration.String(),
	)
	return st
}

// SweepStale returns rows stuck in processing longer than StaleAfter to
// pending. Tables without a claimed-at column are left alone.
func (s *Service) SweepStale(ctx context.Context) int64 {
	if s.opts.StaleAfter <= 0 {
		return 0
	}

	var total int64
	for _, table := range s.Tables() {
		if !table.HasStatus() || table.ClaimedAtColumn == "" {
			continue
		}
		dbCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
		n, err := s.store.ResetStale(dbCtx, table, s.opts.StaleAfter)
		cancel()
		if err != nil {
			s.logger.Error("stale sweep failed", "table", table.Name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Warn("reset stale claims", "table", table.Name, "count", n)
		}
		total += n
	}
	return total
}
