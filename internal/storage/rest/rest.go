// Package rest implements storage.Storage over the Supabase PostgREST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/princekumarofficial/transcode-service/internal/storage"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
	"github.com/supabase-community/postgrest-go"
)

type Client struct {
	pg *postgrest.Client
}

// NewClient targets <baseURL>/rest/v1 authenticating with key.
func NewClient(baseURL, key string) (*Client, error) {
	pg := postgrest.NewClient(strings.TrimRight(baseURL, "/")+"/rest/v1", "public", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
	if pg.ClientError != nil {
		return nil, fmt.Errorf("create postgrest client: %w", pg.ClientError)
	}
	return &Client{pg: pg}, nil
}

func (c *Client) Columns(ctx context.Context, table media.Table) ([]string, error) {
	q := c.pg.From(table.Name).Select("*", "", false).Limit(1, "")

	rows, err := run(ctx, table.Name, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

func (c *Client) ListCandidates(ctx context.Context, table media.Table, statuses []media.Status, limit int) ([]media.Record, error) {
	q := c.selectRows(table).Not(table.SourceColumn, "is", "null")
	renditionsNull(q, table)
	if table.HasStatus() {
		if f := statusFilter(table, statuses); f != "" {
			q = q.Or(f, "")
		}
	}
	if limit > 0 {
		q = q.Limit(limit, "")
	}

	rows, err := run(ctx, table.Name, q)
	if err != nil {
		return nil, err
	}

	records := make([]media.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row, table))
	}
	return records, nil
}

func (c *Client) GetRecord(ctx context.Context, table media.Table, id string) (*media.Record, error) {
	rows, err := run(ctx, table.Name, c.selectRows(table).Eq("id", id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	rec := toRecord(rows[0], table)
	return &rec, nil
}

func (c *Client) Claim(ctx context.Context, table media.Table, id string, from []media.Status) (bool, error) {
	if !table.HasStatus() {
		return true, nil
	}

	body := map[string]any{table.StatusColumn: string(media.StatusProcessing)}
	if table.ClaimedAtColumn != "" {
		body[table.ClaimedAtColumn] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	q := c.update(table, body).Eq("id", id)
	renditionsNull(q, table)
	if f := statusFilter(table, from); f != "" {
		q = q.Or(f, "")
	}

	rows, err := run(ctx, table.Name, q)
	if err != nil {
		return false, err
	}
	return len(rows) == 1, nil
}

func (c *Client) SetStatus(ctx context.Context, table media.Table, id string, status media.Status) error {
	if !table.HasStatus() {
		return nil
	}

	q := c.update(table, map[string]any{table.StatusColumn: string(status)}).Eq("id", id)
	rows, err := run(ctx, table.Name, q)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) SetRendition(ctx context.Context, table media.Table, id, column, publicURL string) error {
	q := c.update(table, map[string]any{column: publicURL}).Eq("id", id)
	renditionsNull(q, table)

	rows, err := run(ctx, table.Name, q)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (c *Client) ResetStale(ctx context.Context, table media.Table, olderThan time.Duration) (int64, error) {
	if !table.HasStatus() || table.ClaimedAtColumn == "" {
		return 0, nil
	}

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	body := map[string]any{
		table.StatusColumn:    string(media.StatusPending),
		table.ClaimedAtColumn: nil,
	}
	q := c.update(table, body).
		Eq(table.StatusColumn, string(media.StatusProcessing)).
		Lt(table.ClaimedAtColumn, cutoff)

	rows, err := run(ctx, table.Name, q)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (c *Client) selectRows(table media.Table) *postgrest.FilterBuilder {
	return c.pg.From(table.Name).Select(strings.Join(table.Columns(), ","), "", false)
}

// update asks for the affected rows back so callers can count them.
func (c *Client) update(table media.Table, body map[string]any) *postgrest.FilterBuilder {
	return c.pg.From(table.Name).Update(body, "representation", "")
}

// run executes q and decodes the JSON array response.
func run(ctx context.Context, table string, q *postgrest.FilterBuilder) ([]map[string]any, error) {
	body, _, err := q.ExecuteWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgrest %s: %w", table, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", table, err)
	}
	return rows, nil
}

func renditionsNull(q *postgrest.FilterBuilder, table media.Table) {
	for _, c := range table.RenditionColumns {
		q.Is(c, "null")
	}
}

// statusFilter renders the body of a PostgREST or=() filter; StatusNone
// means NULL.
func statusFilter(table media.Table, statuses []media.Status) string {
	includeNull, values := storage.SplitStatuses(statuses)

	var parts []string
	if includeNull {
		parts = append(parts, table.StatusColumn+".is.null")
	}
	if len(values) > 0 {
		parts = append(parts, table.StatusColumn+".in.("+strings.Join(values, ",")+")")
	}
	return strings.Join(parts, ",")
}

func toRecord(row map[string]any, table media.Table) media.Record {
	rec := media.Record{
		Table:       table.Name,
		ID:          stringValue(row["id"]),
		OriginalURL: stringValue(row[table.SourceColumn]),
		Renditions:  make(map[string]string, len(table.RenditionColumns)),
	}
	for _, c := range table.RenditionColumns {
		if v := stringValue(row[c]); v != "" {
			rec.Renditions[c] = v
		}
	}
	if table.HasStatus() {
		rec.Status = media.Status(stringValue(row[table.StatusColumn]))
	}
	return rec
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

var _ storage.Storage = (*Client)(nil)
