package postgres

import (
	"context"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/apiclient"
)

const insertCallLog = `INSERT INTO raw.extraction_log
    (application_id, tenant_id, endpoint, http_status, duration_ms, error_message, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// CallLog writes provider calls to raw.extraction_log.
type CallLog struct {
	db       Querier
	tenantID string
}

func NewCallLog(db Querier, tenantID string) *CallLog {
	return &CallLog{db: db, tenantID: tenantID}
}

func (l *CallLog) LogCall(ctx context.Context, rec apiclient.CallRecord) error {
	_, err := l.db.Exec(ctx, insertCallLog,
		nullable(rec.ApplicationID),
		nullable(l.tenantID),
		rec.Endpoint,
		rec.HTTPStatus,
		rec.Duration.Milliseconds(),
		nullable(rec.ErrorMessage),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert into raw.extraction_log")
	}
	return nil
}
