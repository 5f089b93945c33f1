package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/princekumarofficial/transcode-service/internal/objectstore"
	"github.com/princekumarofficial/transcode-service/internal/scratch"
	"github.com/princekumarofficial/transcode-service/internal/types"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
)

// Result is the outcome of one row attempt.
type Result struct {
	OK      bool
	Skipped bool
	Reason  string

	// Column and PublicURL are set once the rendition is uploaded.
	Column    string
	PublicURL string

	// Inconsistent marks an uploaded rendition no column accepted.
	Inconsistent bool

	Err error
}

// attempt carries the state of a single row through the pipeline.
type attempt struct {
	id     string
	table  media.Table
	rec    media.Record
	mode   Mode
	log    *slog.Logger
	events *types.JobEvent
}

// ProcessRow runs one row through claim, fetch, transcode, upload and
// column update. It never returns a panic or error to the caller; failures
// are reported in Result and, where the table has one, the status column.
func (s *Service) ProcessRow(ctx context.Context, table media.Table, rec media.Record, mode Mode) (res Result) {
	a := &attempt{
		id:    uuid.NewString(),
		table: table,
		rec:   rec,
		mode:  mode,
	}
	a.log = s.logger.With("table", table.Name, "id", rec.ID, "attempt", a.id, "mode", string(mode))
	a.events = &types.JobEvent{AttemptID: a.id, Table: table.Name, RecordID: rec.ID}

	defer func() {
		if r := recover(); r != nil {
			res = s.fail(ctx, a, fmt.Errorf("panic: %v", r))
		}
	}()

	if rec.HasRendition() {
		return s.skip(ctx, a, "rendition already present", false)
	}

	ok, err := s.leaser.Acquire(ctx, table.Name, rec.ID, a.id, s.leaseTTL())
	if err != nil {
		a.log.Warn("lease unavailable, relying on database claim", "error", err)
	} else if !ok {
		return s.skip(ctx, a, "leased by another worker", false)
	} else {
		defer func() {
			if err := s.leaser.Release(context.WithoutCancel(ctx), table.Name, rec.ID, a.id); err != nil {
				a.log.Warn("lease release failed", "error", err)
			}
		}()
	}

	won, err := s.claim(ctx, a)
	if err != nil {
		a.log.Error("claim failed", "error", err)
		return Result{Err: fmt.Errorf("claim: %w", err)}
	}
	if !won {
		return s.skip(ctx, a, "claimed elsewhere or already has a rendition", false)
	}
	a.log.Info("row claimed", "source", rec.OriginalURL)
	s.publish(ctx, a, types.EventClaimed)

	fresh, err := s.reread(ctx, a)
	if err != nil {
		return s.fail(ctx, a, fmt.Errorf("re-read before fetch: %w", err))
	}
	if fresh.HasRendition() {
		return s.skip(ctx, a, "rendition already present", true)
	}
	if fresh.OriginalURL == "" {
		return s.reject(ctx, a, "source url is empty")
	}

	src, err := objectstore.ParsePublicURL(fresh.OriginalURL)
	if err != nil {
		return s.reject(ctx, a, err.Error())
	}

	pair, err := scratch.Acquire(s.opts.ScratchDir, fresh.OriginalURL, s.now())
	if err != nil {
		return s.fail(ctx, a, err)
	}
	defer func() {
		if err := pair.Release(); err != nil {
			a.log.Warn("scratch cleanup failed", "error", err)
		}
	}()

	if err := s.fetch(ctx, fresh.OriginalURL, pair.Input); err != nil {
		return s.fail(ctx, a, fmt.Errorf("fetch: %w", err))
	}

	output := pair.OutputPath(s.now())
	if err := s.transcode(ctx, pair.Input, output); err != nil {
		return s.fail(ctx, a, fmt.Errorf("transcode: %w", err))
	}

	// A concurrent worker may have finished while this one was encoding.
	latest, err := s.reread(ctx, a)
	if err != nil {
		return s.fail(ctx, a, fmt.Errorf("re-read before upload: %w", err))
	}
	if latest.HasRendition() {
		return s.skip(ctx, a, "rendition appeared during transcode", true)
	}

	dest := objectstore.MobileLocation(src, filepath.Base(output))
	publicURL, err := s.upload(ctx, dest, output)
	if err != nil {
		return s.fail(ctx, a, fmt.Errorf("upload %s: %w", dest, err))
	}
	a.events.PublicURL = publicURL
	a.log.Info("rendition uploaded", "object", dest.String(), "public_url", publicURL)

	column := s.updateColumns(ctx, a, publicURL)
	if column == "" {
		a.log.Warn("rendition uploaded but no column accepted it", "public_url", publicURL)
		s.setStatus(ctx, a, media.StatusFailed)
		a.events.Reason = "no rendition column accepted the url"
		s.publish(ctx, a, types.EventInconsistent)
		return Result{OK: true, Inconsistent: true, PublicURL: publicURL}
	}
	a.events.Column = column

	s.setStatus(ctx, a, media.StatusDone)
	s.publish(ctx, a, types.EventDone)
	a.log.Info("row done", "column", column)
	return Result{OK: true, Column: column, PublicURL: publicURL}
}

func (s *Service) claim(ctx context.Context, a *attempt) (bool, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
	defer cancel()
	return s.store.Claim(dbCtx, a.table, a.rec.ID, a.mode.claimable())
}

func (s *Service) reread(ctx context.Context, a *attempt) (*media.Record, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
	defer cancel()
	return s.store.GetRecord(dbCtx, a.table, a.rec.ID)
}

func (s *Service) fetch(ctx context.Context, url, dest string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	return s.fetcher.Fetch(fetchCtx, url, dest)
}

func (s *Service) transcode(ctx context.Context, input, output string) error {
	tcCtx, cancel := context.WithTimeout(ctx, s.opts.TranscodeTimeout)
	defer cancel()
	return s.transcoder.Transcode(tcCtx, input, output)
}

func (s *Service) upload(ctx context.Context, dest objectstore.Location, file string) (string, error) {
	upCtx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	return s.uploader.Upload(upCtx, dest, file, objectstore.ContentTypeMP4)
}

// updateColumns writes publicURL to the first destination column that
// accepts it and returns that column, or "" when none did.
func (s *Service) updateColumns(ctx context.Context, a *attempt, publicURL string) string {
	for _, column := range s.destinations(a) {
		dbCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
		err := s.store.SetRendition(dbCtx, a.table, a.rec.ID, column, publicURL)
		cancel()
		if err == nil {
			return column
		}
		a.log.Warn("rendition column update failed", "column", column, "error", err)
	}
	return ""
}

// destinations orders the columns to try: the override first when the
// table has it, then the table's own columns in priority order.
func (s *Service) destinations(a *attempt) []string {
	override := s.opts.DestColumn
	if override == "" {
		return a.table.RenditionColumns
	}
	if !a.table.HasRendition(override) {
		a.log.Info("destination override not on table, using detected columns", "column", override)
		return a.table.RenditionColumns
	}

	cols := []string{override}
	for _, c := range a.table.RenditionColumns {
		if c != override {
			cols = append(cols, c)
		}
	}
	return cols
}

// setStatus writes status with a context detached from cancellation, so a
// shutdown mid-attempt still leaves the row in a terminal state.
// Tables without a status column only remember failures in memory.
func (s *Service) setStatus(ctx context.Context, a *attempt, status media.Status) {
	if !a.table.HasStatus() {
		if status == media.StatusFailed {
			s.markUnprocessable(a.table.Name, a.rec.ID)
		}
		return
	}
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DBTimeout)
	defer cancel()
	if err := s.store.SetStatus(dbCtx, a.table, a.rec.ID, status); err != nil {
		a.log.Error("status update failed", "status", string(status), "error", err)
	}
}

func (s *Service) fail(ctx context.Context, a *attempt, err error) Result {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		a.log.Warn("attempt interrupted", "error", err)
	} else {
		a.log.Error("attempt failed", "error", err)
	}
	s.setStatus(ctx, a, media.StatusFailed)
	a.events.Reason = err.Error()
	s.publish(ctx, a, types.EventFailed)
	return Result{Err: err}
}

// reject skips a claimed row whose source cannot be processed. The row is
// marked failed, or remembered when the table has no status column, so
// bounded worker scans do not keep returning it.
func (s *Service) reject(ctx context.Context, a *attempt, reason string) Result {
	a.log.Warn("source rejected", "reason", reason, "source", a.rec.OriginalURL)
	s.setStatus(ctx, a, media.StatusFailed)
	a.events.Reason = reason
	s.publish(ctx, a, types.EventSkipped)
	return Result{Skipped: true, Reason: reason}
}

// skip ends an attempt without doing work. markDone is set when the row
// was claimed and already carries a rendition.
func (s *Service) skip(ctx context.Context, a *attempt, reason string, markDone bool) Result {
	a.log.Info("row skipped", "reason", reason)
	if markDone {
		s.setStatus(ctx, a, media.StatusDone)
	}
	a.events.Reason = reason
	s.publish(ctx, a, types.EventSkipped)
	return Result{Skipped: true, Reason: reason}
}

func (s *Service) publish(ctx context.Context, a *attempt, eventType types.EventType) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, eventType, a.events); err != nil {
		a.log.Warn("event publish failed", "event", string(eventType), "error", err)
	}
}
