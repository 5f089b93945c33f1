// Package transcode drives media rows through claim, fetch, transcode,
// upload and column update.
package transcode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/princekumarofficial/transcode-service/internal/events"
	"github.com/princekumarofficial/transcode-service/internal/lease"
	"github.com/princekumarofficial/transcode-service/internal/objectstore"
	"github.com/princekumarofficial/transcode-service/internal/storage"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
)

// Mode selects which statuses a scan picks up.
type Mode string

const (
	// ModeBatch also retries rows left failed by an earlier run.
	ModeBatch Mode = "batch"
	// ModeWorker only takes fresh (NULL) or pending rows, bounded per table.
	ModeWorker Mode = "worker"
)

// claimable lists the statuses a row may hold to be claimed in this mode.
func (m Mode) claimable() []media.Status {
	if m == ModeBatch {
		return []media.Status{media.StatusNone, media.StatusPending, media.StatusFailed}
	}
	return []media.Status{media.StatusNone, media.StatusPending}
}

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Transcoder produces the mobile rendition of input at output.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string) error
}

type Options struct {
	Tables     []media.Table
	DestColumn string
	ScratchDir string
	BatchSize  int

	FetchTimeout     time.Duration
	TranscodeTimeout time.Duration
	UploadTimeout    time.Duration
	DBTimeout        time.Duration
	StaleAfter       time.Duration
}

type Service struct {
	store      storage.Storage
	fetcher    Fetcher
	transcoder Transcoder
	uploader   objectstore.Uploader
	leaser     lease.Leaser
	publisher  events.Publisher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	tables []media.Table
	last   Stats
	// Rows failed on tables with no status column, by table then id.
	unmarked map[string]map[string]struct{}
}

type Option func(*Service)

func WithLeaser(l lease.Leaser) Option {
	return func(s *Service) { s.leaser = l }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	store storage.Storage,
	fetcher Fetcher,
	transcoder Transcoder,
	uploader objectstore.Uploader,
	opts Options,
	logger *slog.Logger,
	options ...Option,
) *Service {
	s := &Service{
		store:      store,
		fetcher:    fetcher,
		transcoder: transcoder,
		uploader:   uploader,
		leaser:     lease.Nop{},
		publisher:  events.Nop{},
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		tables:     opts.Tables,
		unmarked:   make(map[string]map[string]struct{}),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Tables returns the table shapes the service processes.
func (s *Service) Tables() []media.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Table(nil), s.tables...)
}

// ResolveTables checks the configured shapes against the columns the
// backend reports. Missing rendition columns are dropped; a missing status
// or claimed-at column disables claiming for that table; a table left with
// no rendition column is not processed. Tables whose columns cannot be
// listed are kept as configured.
func (s *Service) ResolveTables(ctx context.Context) {
	var resolved []media.Table
	for _, table := range s.opts.Tables {
		log := s.logger.With("table", table.Name)

		dbCtx, cancel := context.WithTimeout(ctx, s.opts.DBTimeout)
		cols, err := s.store.Columns(dbCtx, table)
		cancel()
		if err != nil {
			log.Warn("could not list table columns, using configured shape", "error", err)
			resolved = append(resolved, table)
			continue
		}
		if cols == nil {
			resolved = append(resolved, table)
			continue
		}

		t, ok := shapeFor(table, cols, log)
		if ok {
			resolved = append(resolved, t)
		}
	}

	s.mu.Lock()
	s.tables = resolved
	s.mu.Unlock()
}

func shapeFor(table media.Table, cols []string, log *slog.Logger) (media.Table, bool) {
	exists := make(map[string]bool, len(cols))
	for _, c := range cols {
		exists[c] = true
	}

	if !exists[table.SourceColumn] {
		log.Error("source column missing, table will not be processed", "column", table.SourceColumn)
		return table, false
	}

	var renditions []string
	for _, c := range table.RenditionColumns {
		if exists[c] {
			renditions = append(renditions, c)
		} else {
			log.Info("rendition column not present on table", "column", c)
		}
	}
	if len(renditions) == 0 {
		log.Error("no rendition columns present, table will not be processed")
		return table, false
	}
	table.RenditionColumns = renditions

	if table.StatusColumn != "" && !exists[table.StatusColumn] {
		log.Warn("status column missing, rows will not be claimed", "column", table.StatusColumn)
		table.StatusColumn = ""
	}
	if table.ClaimedAtColumn != "" && !exists[table.ClaimedAtColumn] {
		log.Warn("claimed-at column missing, stale rows will not be swept", "column", table.ClaimedAtColumn)
		table.ClaimedAtColumn = ""
	}
	return table, true
}

// LastStats returns the statistics of the most recent completed scan.
func (s *Service) LastStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// markUnprocessable remembers a failed row of a table that has no status
// column to hold the outcome.
func (s *Service) markUnprocessable(table, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.unmarked[table]
	if ids == nil {
		ids = make(map[string]struct{})
		s.unmarked[table] = ids
	}
	ids[id] = struct{}{}
}

func (s *Service) unprocessable(table string) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.unmarked[table]))
	for id := range s.unmarked[table] {
		ids[id] = struct{}{}
	}
	return ids
}

func (s *Service) leaseTTL() time.Duration {
	return s.opts.FetchTimeout + s.opts.TranscodeTimeout + s.opts.UploadTimeout + 4*s.opts.DBTimeout
}
