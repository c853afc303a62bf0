package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toques-bi/toques/pkg/syncstate"
)

func TestReporter_Report(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for i, table := range ReportTables {
		q := mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER \(WHERE tenant_id = \$1\) FROM public.` + table + `$`).
			WithArgs("visionamos")
		if table == "toques_usuario" {
			q.WillReturnError(errors.New(`relation "public.toques_usuario" does not exist`))
			continue
		}
		q.WillReturnRows(pgxmock.NewRows([]string{"count", "tenant_count"}).AddRow(int64(10+i), int64(i)))
	}

	synced := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM public.sync_state").
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "entity", "last_cursor", "last_sync_at", "records_synced", "status", "last_error"}).
			AddRow("visionamos", "chat_messages:100274", "2025-03-10T12:00:00Z", &synced, int64(42), "success", ""))

	rep, err := NewReporter(mock, "visionamos").Report(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, rep.Tables, len(ReportTables))
	assert.Equal(t, TableCount{Table: "contacts", Rows: 10, TenantRows: 0}, rep.Tables[0])
	assert.Equal(t, int64(16), rep.Tables[6].Rows)
	assert.NotEmpty(t, rep.Tables[7].Error)

	require.Len(t, rep.SyncState, 1)
	assert.Equal(t, syncstate.StatusSuccess, rep.SyncState[0].Status)

	var out bytes.Buffer
	RenderReport(&out, rep)
	assert.Contains(t, out.String(), "chat_messages:100274")
	assert.Contains(t, out.String(), "toques_usuario")
	assert.Contains(t, out.String(), "2025-03-10 12:00:00")
}

func TestReporter_SyncStateFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range ReportTables {
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(pgxmock.NewRows([]string{"count", "tenant_count"}).AddRow(int64(0), int64(0)))
	}
	mock.ExpectQuery("FROM public.sync_state").WillReturnError(errors.New("connection reset"))

	rep, err := NewReporter(mock, "visionamos").Report(context.Background())
	require.Error(t, err)
	assert.Len(t, rep.Tables, len(ReportTables))
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	RenderSummary(&out, &Summary{
		RunID:  "run-1",
		Status: StatusPartialError,
		Steps: []StepSummary{
			{Name: "extract", Status: StepOK, Duration: 1500 * time.Millisecond, Detail: "1 applications, 4 pages, 0 failures"},
			{Name: "dbt-run", Status: StepFailed},
		},
		Errors: []string{"dbt-run: exit status 1"},
	})

	s := out.String()
	assert.Contains(t, s, "extract")
	assert.Contains(t, s, "1.5s")
	assert.Contains(t, s, "partial_error")
	assert.Contains(t, s, "dbt-run: exit status 1")
}
