package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/payload"
)

// RawDocument is one fetched page, landed verbatim.
type RawDocument struct {
	Table         string
	ApplicationID string
	TenantID      string
	Endpoint      string
	DateFrom      *time.Time
	DateTo        *time.Time
	Data          payload.Document
}

// RawRow is a landed document read back for transformation.
type RawRow struct {
	ID            int64
	TenantID      string
	ApplicationID string
	Endpoint      string
	LoadedAt      time.Time
	Data          payload.Document
}

// EndpointMatch narrows the raw rows of a table. Exact wins over Contains; both empty
// selects everything.
type EndpointMatch struct {
	Exact    string
	Contains string
}

// StoreRaw appends a single document in its own transaction. Empty documents are skipped and
// reported as not stored.
func (c *Client) StoreRaw(ctx context.Context, doc RawDocument) (bool, error) {
	if !isRawTable(doc.Table) {
		return false, errors.Errorf("unknown raw table %q", doc.Table)
	}
	if doc.Data.IsEmpty() {
		return false, nil
	}

	q := fmt.Sprintf(`INSERT INTO raw.%s
    (application_id, tenant_id, endpoint, date_from, date_to, source_data)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)`, doc.Table)

	err := c.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			nullable(doc.ApplicationID),
			nullable(doc.TenantID),
			doc.Endpoint,
			doc.DateFrom,
			doc.DateTo,
			doc.Data.String(),
		)
		return err
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to store raw document for %s", doc.Endpoint)
	}

	return true, nil
}

// ReadRaw loads the landed documents of a table, oldest first. A missing tenant falls back to
// defaultTenant.
func ReadRaw(ctx context.Context, q Querier, table string, match EndpointMatch, defaultTenant string) ([]RawRow, error) {
	if !isRawTable(table) {
		return nil, errors.Errorf("unknown raw table %q", table)
	}

	sql := fmt.Sprintf(`SELECT id, COALESCE(tenant_id, $1), COALESCE(application_id, ''), endpoint, loaded_at, source_data::text
FROM raw.%s`, table)
	args := []any{defaultTenant}

	switch {
	case match.Exact != "":
		sql += "\nWHERE endpoint = $2"
		args = append(args, match.Exact)
	case match.Contains != "":
		sql += "\nWHERE endpoint LIKE '%' || $2 || '%'"
		args = append(args, match.Contains)
	}
	sql += "\nORDER BY id"

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read raw.%s", table)
	}
	defer rows.Close()

	var out []RawRow
	for rows.Next() {
		var (
			r    RawRow
			body string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ApplicationID, &r.Endpoint, &r.LoadedAt, &body); err != nil {
			return nil, errors.Wrapf(err, "failed to scan raw.%s", table)
		}

		doc, err := payload.Parse([]byte(body))
		if err != nil {
			return nil, errors.Wrapf(err, "raw.%s row %d", table, r.ID)
		}
		r.Data = doc
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read raw.%s", table)
	}

	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
