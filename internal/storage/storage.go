package storage

import (
	"context"
	"errors"
	"time"

	"github.com/princekumarofficial/transcode-service/internal/types/media"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional write matched no row: the row was
	// claimed elsewhere or already has a rendition.
	ErrConflict = errors.New("conditional update matched no row")
)

// Storage reads and mutates media rows. Implementations never delete rows.
type Storage interface {
	// Columns lists the columns that exist on table. A nil result means
	// the backend cannot tell.
	Columns(ctx context.Context, table media.Table) ([]string, error)

	// ListCandidates returns up to limit rows with a source URL, no
	// rendition, and (for tables with a status column) a status in
	// statuses, where StatusNone stands for NULL. limit <= 0 means no limit.
	ListCandidates(ctx context.Context, table media.Table, statuses []media.Status, limit int) ([]media.Record, error)

	GetRecord(ctx context.Context, table media.Table, id string) (*media.Record, error)

	// Claim atomically moves the row to processing if its status is in
	// from and no rendition exists. It reports whether this caller won.
	Claim(ctx context.Context, table media.Table, id string, from []media.Status) (bool, error)

	SetStatus(ctx context.Context, table media.Table, id string, status media.Status) error

	// SetRendition writes url into column only while every rendition
	// column is still empty, returning ErrConflict otherwise.
	SetRendition(ctx context.Context, table media.Table, id, column, url string) error

	// ResetStale moves rows stuck in processing for longer than olderThan
	// back to pending and returns how many moved.
	ResetStale(ctx context.Context, table media.Table, olderThan time.Duration) (int64, error)
}

// SplitStatuses separates StatusNone (NULL) from concrete status values.
func SplitStatuses(statuses []media.Status) (includeNull bool, values []string) {
	for _, s := range statuses {
		if s == media.StatusNone {
			includeNull = true
			continue
		}
		values = append(values, string(s))
	}
	return includeNull, values
}
