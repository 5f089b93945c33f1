package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/princekumarofficial/transcode-service/internal/storage"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var booms = media.Table{
	Name:             "booms",
	SourceColumn:     "original_url",
	RenditionColumns: []string{"video_url"},
	StatusColumn:     "transcode_status",
	ClaimedAtColumn:  "transcode_claimed_at",
}

var videos = media.Table{
	Name:             "videos",
	SourceColumn:     "original_url",
	RenditionColumns: []string{"mobile_url", "video_mobile_url"},
}

func TestListQuery_WorkerStatuses(t *testing.T) {
	query, args := listQuery(booms, []media.Status{media.StatusNone, media.StatusPending}, 10)

	assert.Equal(t,
		`SELECT "id"::text AS "id", "original_url"::text AS "original_url", "video_url"::text AS "video_url", "transcode_status"::text AS "transcode_status" `+
			`FROM "booms" WHERE "original_url" IS NOT NULL AND "video_url" IS NULL AND ("transcode_status" IS NULL OR "transcode_status"::text = ANY($1)) LIMIT $2`,
		query)
	assert.Equal(t, []any{pq.Array([]string{"pending"}), 10}, args)
}

func TestListQuery_NoStatusColumn(t *testing.T) {
	query, args := listQuery(videos, []media.Status{media.StatusNone, media.StatusPending}, 0)

	assert.Equal(t,
		`SELECT "id"::text AS "id", "original_url"::text AS "original_url", "mobile_url"::text AS "mobile_url", "video_mobile_url"::text AS "video_mobile_url" `+
			`FROM "videos" WHERE "original_url" IS NOT NULL AND "mobile_url" IS NULL AND "video_mobile_url" IS NULL`,
		query)
	assert.Empty(t, args)
}

func TestListQuery_NullOnly(t *testing.T) {
	query, args := listQuery(booms, []media.Status{media.StatusNone}, 0)

	assert.Contains(t, query, `AND "transcode_status" IS NULL`)
	assert.NotContains(t, query, "ANY")
	assert.Empty(t, args)
}

func TestClaimQuery(t *testing.T) {
	query, args := claimQuery(booms, "r1", []media.Status{media.StatusNone, media.StatusPending})

	assert.Equal(t,
		`UPDATE "booms" SET "transcode_status" = $1, "transcode_claimed_at" = now() `+
			`WHERE id = $2 AND "video_url" IS NULL AND ("transcode_status" IS NULL OR "transcode_status"::text = ANY($3))`,
		query)
	assert.Equal(t, []any{"processing", "r1", pq.Array([]string{"pending"})}, args)
}

func TestClaimQuery_WithoutClaimedAt(t *testing.T) {
	table := booms
	table.ClaimedAtColumn = ""

	query, _ := claimQuery(table, "r1", []media.Status{media.StatusPending, media.StatusFailed})
	assert.Equal(t,
		`UPDATE "booms" SET "transcode_status" = $1 WHERE id = $2 AND "video_url" IS NULL AND "transcode_status"::text = ANY($3)`,
		query)
}

func TestRenditionsNull(t *testing.T) {
	assert.Equal(t, `"mobile_url" IS NULL AND "video_mobile_url" IS NULL`, renditionsNull(videos))
}

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &Postgres{Db: db}, mock
}

func TestClaim_ReportsWinner(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "won", affected: 1, want: true},
		{name: "lost", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newMock(t)
			from := []media.Status{media.StatusNone, media.StatusPending}
			query, _ := claimQuery(booms, "r1", from)
			mock.ExpectExec(query).
				WithArgs("processing", "r1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			won, err := p.Claim(context.Background(), booms, "r1", from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, won)
		})
	}
}

func TestClaim_NoStatusColumnSkipsDatabase(t *testing.T) {
	p, _ := newMock(t)

	won, err := p.Claim(context.Background(), videos, "v1", []media.Status{media.StatusPending})
	require.NoError(t, err)
	assert.True(t, won)
}

func TestSetRendition(t *testing.T) {
	const query = `UPDATE "videos" SET "mobile_url" = $1 WHERE id = $2 AND "mobile_url" IS NULL AND "video_mobile_url" IS NULL`

	t.Run("written", func(t *testing.T) {
		p, mock := newMock(t)
		mock.ExpectExec(query).WithArgs("https://host/m.mp4", "v1").WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, p.SetRendition(context.Background(), videos, "v1", "mobile_url", "https://host/m.mp4"))
	})

	t.Run("already rendered", func(t *testing.T) {
		p, mock := newMock(t)
		mock.ExpectExec(query).WithArgs("https://host/m.mp4", "v1").WillReturnResult(sqlmock.NewResult(0, 0))

		err := p.SetRendition(context.Background(), videos, "v1", "mobile_url", "https://host/m.mp4")
		assert.ErrorIs(t, err, storage.ErrConflict)
	})
}

func TestSetStatus_MissingRow(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`UPDATE "booms" SET "transcode_status" = $1 WHERE id = $2`).
		WithArgs("failed", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.SetStatus(context.Background(), booms, "gone", media.StatusFailed)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetRecord(t *testing.T) {
	p, mock := newMock(t)
	query := `SELECT "id"::text AS "id", "original_url"::text AS "original_url", "video_url"::text AS "video_url", "transcode_status"::text AS "transcode_status" FROM "booms" WHERE id = $1`
	mock.ExpectQuery(query).WithArgs("42").WillReturnRows(
		sqlmock.NewRows([]string{"id", "original_url", "video_url", "transcode_status"}).
			AddRow("42", "https://host/object/public/videos/in.mp4", nil, "processing"),
	)

	rec, err := p.GetRecord(context.Background(), booms, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, "booms", rec.Table)
	assert.Equal(t, "https://host/object/public/videos/in.mp4", rec.OriginalURL)
	assert.False(t, rec.HasRendition())
	assert.Equal(t, media.StatusProcessing, rec.Status)
}

func TestGetRecord_NotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`SELECT "id"::text AS "id", "original_url"::text AS "original_url", "video_url"::text AS "video_url", "transcode_status"::text AS "transcode_status" FROM "booms" WHERE id = $1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "original_url", "video_url", "transcode_status"}))

	_, err := p.GetRecord(context.Background(), booms, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListCandidates(t *testing.T) {
	p, mock := newMock(t)
	query, _ := listQuery(videos, nil, 5)
	mock.ExpectQuery(query).WithArgs(5).WillReturnRows(
		sqlmock.NewRows([]string{"id", "original_url", "mobile_url", "video_mobile_url"}).
			AddRow("v1", "https://host/object/public/videos/a.mp4", nil, nil).
			AddRow("v2", "https://host/object/public/videos/b.mp4", nil, ""),
	)

	records, err := p.ListCandidates(context.Background(), videos, nil, 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "v2", records[1].ID)
	assert.False(t, records[1].HasRendition())
	assert.Equal(t, media.StatusNone, records[0].Status)
}

func TestResetStale_CountsRows(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`UPDATE "booms" SET "transcode_status" = $1, "transcode_claimed_at" = NULL WHERE "transcode_status"::text = $2 AND "transcode_claimed_at" < $3`).
		WithArgs("pending", "processing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := p.ResetStale(context.Background(), booms, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
