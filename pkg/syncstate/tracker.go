package syncstate

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/helpers"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Entry mirrors a row of public.sync_state.
type Entry struct {
	TenantID      string     `json:"tenant_id"`
	Entity        string     `json:"entity"`
	LastCursor    string     `json:"last_cursor,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	RecordsSynced int64      `json:"records_synced"`
	Status        Status     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
}

// Tracker reads and writes sync state for a single tenant. With fullRefresh set, stored
// cursors are ignored on read and overwritten on write.
type Tracker struct {
	db          querier
	tenantID    string
	fullRefresh bool
}

func NewTracker(db querier, tenantID string, fullRefresh bool) *Tracker {
	return &Tracker{db: db, tenantID: tenantID, fullRefresh: fullRefresh}
}

const selectCursor = `SELECT last_cursor FROM public.sync_state
WHERE tenant_id = $1 AND entity = $2 AND last_cursor IS NOT NULL`

// GetCursor returns the stored cursor, or false when there is none or a full refresh was
// requested.
func (t *Tracker) GetCursor(ctx context.Context, entity string) (string, bool, error) {
	if t.fullRefresh {
		return "", false, nil
	}

	rows, err := t.db.Query(ctx, selectCursor, t.tenantID, entity)
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read cursor for %s", entity)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}

	var cursor string
	if err := rows.Scan(&cursor); err != nil {
		return "", false, errors.Wrapf(err, "failed to scan cursor for %s", entity)
	}

	return cursor, cursor != "", nil
}

// Cursors are ISO timestamps, so text comparison orders them chronologically.
const upsertCursorIncremental = `INSERT INTO public.sync_state (tenant_id, entity, last_cursor, last_sync_at, records_synced, status, last_error)
VALUES ($1, $2, $3, NOW(), $4, 'success', NULL)
ON CONFLICT (tenant_id, entity) DO UPDATE SET
    last_cursor    = GREATEST(sync_state.last_cursor, EXCLUDED.last_cursor),
    last_sync_at   = EXCLUDED.last_sync_at,
    records_synced = EXCLUDED.records_synced,
    status         = EXCLUDED.status,
    last_error     = NULL`

const upsertCursorFull = `INSERT INTO public.sync_state (tenant_id, entity, last_cursor, last_sync_at, records_synced, status, last_error)
VALUES ($1, $2, $3, NOW(), $4, 'success', NULL)
ON CONFLICT (tenant_id, entity) DO UPDATE SET
    last_cursor    = EXCLUDED.last_cursor,
    last_sync_at   = EXCLUDED.last_sync_at,
    records_synced = EXCLUDED.records_synced,
    status         = EXCLUDED.status,
    last_error     = NULL`

// UpdateCursor records a successfully stored batch. Outside a full refresh the cursor never
// moves backwards.
func (t *Tracker) UpdateCursor(ctx context.Context, entity, cursor string, records int64) error {
	q := upsertCursorIncremental
	if t.fullRefresh {
		q = upsertCursorFull
	}

	if _, err := t.db.Exec(ctx, q, t.tenantID, entity, cursor, records); err != nil {
		return errors.Wrapf(err, "failed to update cursor for %s", entity)
	}
	return nil
}

const upsertStatus = `INSERT INTO public.sync_state (tenant_id, entity, last_sync_at, records_synced, status, last_error)
VALUES ($1, $2, NOW(), $3, $4, $5)
ON CONFLICT (tenant_id, entity) DO UPDATE SET
    last_sync_at   = EXCLUDED.last_sync_at,
    records_synced = COALESCE(EXCLUDED.records_synced, sync_state.records_synced),
    status         = EXCLUDED.status,
    last_error     = EXCLUDED.last_error`

func (t *Tracker) MarkRunning(ctx context.Context, entity string) error {
	return t.setStatus(ctx, entity, StatusRunning, nil, nil)
}

// MarkSuccess records a successful sync without touching the cursor.
func (t *Tracker) MarkSuccess(ctx context.Context, entity string, records int64) error {
	return t.setStatus(ctx, entity, StatusSuccess, &records, nil)
}

// MarkError records a failed sync; the cursor stays where it was.
func (t *Tracker) MarkError(ctx context.Context, entity string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = helpers.TruncateMessage(cause.Error())
	}
	return t.setStatus(ctx, entity, StatusError, nil, &msg)
}

func (t *Tracker) setStatus(ctx context.Context, entity string, status Status, records *int64, lastError *string) error {
	if _, err := t.db.Exec(ctx, upsertStatus, t.tenantID, entity, records, string(status), lastError); err != nil {
		return errors.Wrapf(err, "failed to mark %s as %s", entity, status)
	}
	return nil
}

const selectEntries = `SELECT tenant_id, entity, COALESCE(last_cursor, ''), last_sync_at, COALESCE(records_synced, 0), status, COALESCE(last_error, '')
FROM public.sync_state
ORDER BY tenant_id, entity`

// List returns every sync-state entry across tenants.
func List(ctx context.Context, db querier) ([]Entry, error) {
	rows, err := db.Query(ctx, selectEntries)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sync state")
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e      Entry
			status string
		)
		err := row.Scan(&e.TenantID, &e.Entity, &e.LastCursor, &e.LastSyncAt, &e.RecordsSynced, &status, &e.LastError)
		e.Status = Status(status)
		return e, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect sync state")
	}

	return entries, nil
}
