package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/princekumarofficial/transcode-service/internal/storage"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
)

type Postgres struct {
	Db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{Db: db}, nil
}

func (p *Postgres) Close() error {
	return p.Db.Close()
}

func (p *Postgres) Columns(ctx context.Context, table media.Table) ([]string, error) {
	query := `
	SELECT column_name FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1
	`

	rows, err := p.Db.QueryContext(ctx, query, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (p *Postgres) ListCandidates(ctx context.Context, table media.Table, statuses []media.Status, limit int) ([]media.Record, error) {
	query, args := listQuery(table, statuses, limit)

	rows, err := p.Db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []media.Record
	for rows.Next() {
		rec, err := scanRecord(rows, table)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (p *Postgres) GetRecord(ctx context.Context, table media.Table, id string) (*media.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectList(table), pq.QuoteIdentifier(table.Name))

	rows, err := p.Db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}
	return scanRecord(rows, table)
}

func (p *Postgres) Claim(ctx context.Context, table media.Table, id string, from []media.Status) (bool, error) {
	if !table.HasStatus() {
		return true, nil
	}

	query, args := claimQuery(table, id, from)
	n, err := p.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) SetStatus(ctx context.Context, table media.Table, id string, status media.Status) error {
	if !table.HasStatus() {
		return nil
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`,
		pq.QuoteIdentifier(table.Name), pq.QuoteIdentifier(table.StatusColumn))

	n, err := p.exec(ctx, query, string(status), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *Postgres) SetRendition(ctx context.Context, table media.Table, id, column, url string) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2 AND %s`,
		pq.QuoteIdentifier(table.Name), pq.QuoteIdentifier(column), renditionsNull(table))

	n, err := p.exec(ctx, query, url, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (p *Postgres) ResetStale(ctx context.Context, table media.Table, olderThan time.Duration) (int64, error) {
	if !table.HasStatus() || table.ClaimedAtColumn == "" {
		return 0, nil
	}

	status := pq.QuoteIdentifier(table.StatusColumn)
	claimedAt := pq.QuoteIdentifier(table.ClaimedAtColumn)
	query := fmt.Sprintf(`UPDATE %s SET %s = $1, %s = NULL WHERE %s::text = $2 AND %s < $3`,
		pq.QuoteIdentifier(table.Name), status, claimedAt, status, claimedAt)

	return p.exec(ctx, query,
		string(media.StatusPending), string(media.StatusProcessing), time.Now().Add(-olderThan))
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := p.Db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// selectList casts every column to text so rows of any id or status type
// scan into strings.
func selectList(table media.Table) string {
	cols := table.Columns()
	parts := make([]string, len(cols))
	for i, c := range cols {
		q := pq.QuoteIdentifier(c)
		parts[i] = q + "::text AS " + q
	}
	return strings.Join(parts, ", ")
}

func renditionsNull(table media.Table) string {
	parts := make([]string, len(table.RenditionColumns))
	for i, c := range table.RenditionColumns {
		parts[i] = pq.QuoteIdentifier(c) + " IS NULL"
	}
	return strings.Join(parts, " AND ")
}

// statusFilter renders the status condition using placeholder $n. It
// returns "" when statuses is empty and reports whether the placeholder
// was used.
func statusFilter(table media.Table, statuses []media.Status, n int) (string, bool) {
	includeNull, values := storage.SplitStatuses(statuses)
	col := pq.QuoteIdentifier(table.StatusColumn)
	in := fmt.Sprintf("%s::text = ANY($%d)", col, n)

	switch {
	case includeNull && len(values) > 0:
		return fmt.Sprintf("(%s IS NULL OR %s)", col, in), true
	case includeNull:
		return col + " IS NULL", false
	case len(values) > 0:
		return in, true
	default:
		return "", false
	}
}

func listQuery(table media.Table, statuses []media.Status, limit int) (string, []any) {
	var args []any
	conds := []string{pq.QuoteIdentifier(table.SourceColumn) + " IS NOT NULL", renditionsNull(table)}

	if table.HasStatus() {
		if cond, used := statusFilter(table, statuses, len(args)+1); cond != "" {
			conds = append(conds, cond)
			if used {
				_, values := storage.SplitStatuses(statuses)
				args = append(args, pq.Array(values))
			}
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`,
		selectList(table), pq.QuoteIdentifier(table.Name), strings.Join(conds, " AND "))

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func claimQuery(table media.Table, id string, from []media.Status) (string, []any) {
	args := []any{string(media.StatusProcessing), id}
	set := []string{pq.QuoteIdentifier(table.StatusColumn) + " = $1"}
	if table.ClaimedAtColumn != "" {
		set = append(set, pq.QuoteIdentifier(table.ClaimedAtColumn)+" = now()")
	}

	conds := []string{"id = $2", renditionsNull(table)}
	if cond, used := statusFilter(table, from, len(args)+1); cond != "" {
		conds = append(conds, cond)
		if used {
			_, values := storage.SplitStatuses(from)
			args = append(args, pq.Array(values))
		}
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`,
		pq.QuoteIdentifier(table.Name), strings.Join(set, ", "), strings.Join(conds, " AND "))
	return query, args
}

func scanRecord(rows *sql.Rows, table media.Table) (*media.Record, error) {
	cols := table.Columns()
	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	if err := rows.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	rec := &media.Record{
		Table:       table.Name,
		ID:          values[0].String,
		OriginalURL: values[1].String,
		Renditions:  make(map[string]string, len(table.RenditionColumns)),
	}
	for i, c := range table.RenditionColumns {
		if v := values[2+i]; v.Valid && v.String != "" {
			rec.Renditions[c] = v.String
		}
	}
	if table.HasStatus() {
		rec.Status = media.Status(values[len(values)-1].String)
	}
	return rec, nil
}

var _ storage.Storage = (*Postgres)(nil)
