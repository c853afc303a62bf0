package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/toques-bi/toques/pkg/syncstate"
)

// ReportTables are the normalized tables counted by the report step.
var ReportTables = []string{
	"contacts",
	"toques_daily",
	"toques_heatmap",
	"campaigns",
	"daily_stats",
	"agents",
	"messages",
	"toques_usuario",
	"chat_conversations",
	"chat_channels",
	"chat_topics",
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type TableCount struct {
	Table      string `json:"table"`
	Rows       int64  `json:"rows"`
	TenantRows int64  `json:"tenant_rows"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	Tenant    string            `json:"tenant"`
	Tables    []TableCount      `json:"tables"`
	SyncState []syncstate.Entry `json:"sync_state"`
}

type Reporter struct {
	db     querier
	tenant string
}

func NewReporter(db querier, tenant string) *Reporter {
	return &Reporter{db: db, tenant: tenant}
}

// Report counts rows per normalized table, overall and for the reporting tenant. A table that
// cannot be counted is noted and skipped; only the sync-state listing can fail the report.
func (r *Reporter) Report(ctx context.Context) (*Report, error) {
	rep := &Report{Tenant: r.tenant}

	for _, name := range ReportTables {
		count := TableCount{Table: name}
		if err := r.count(ctx, &count); err != nil {
			count.Error = err.Error()
		}
		rep.Tables = append(rep.Tables, count)
	}

	entries, err := syncstate.List(ctx, r.db)
	if err != nil {
		return rep, err
	}
	rep.SyncState = entries

	return rep, nil
}

func (r *Reporter) count(ctx context.Context, c *TableCount) error {
	sql := fmt.Sprintf("SELECT COUNT(*), COUNT(*) FILTER (WHERE tenant_id = $1) FROM public.%s", c.Table)
	rows, err := r.db.Query(ctx, sql, r.tenant)
	if err != nil {
		return err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&c.Rows, &c.TenantRows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RenderReport writes the table counts and sync state as terminal tables.
func RenderReport(w io.Writer, rep *Report) {
	if rep == nil {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Table", "Rows", "Tenant rows"})
	for _, c := range rep.Tables {
		if c.Error != "" {
			t.AppendRow(table.Row{c.Table, "-", "-"})
			continue
		}
		t.AppendRow(table.Row{c.Table, c.Rows, c.TenantRows})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	t.Render()

	RenderSyncState(w, rep.SyncState)
}

func RenderSyncState(w io.Writer, entries []syncstate.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No sync state entries")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Tenant", "Entity", "Status", "Records", "Last sync", "Cursor", "Error"})
	for _, e := range entries {
		last := "never"
		if e.LastSyncAt != nil {
			last = e.LastSyncAt.UTC().Format(time.DateTime)
		}
		t.AppendRow(table.Row{e.TenantID, e.Entity, e.Status, e.RecordsSynced, last, e.LastCursor, e.LastError})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// RenderSummary writes the per-step outcome of a run followed by its report.
func RenderSummary(w io.Writer, s *Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Step", "Status", "Duration", "Detail"})
	for _, step := range s.Steps {
		t.AppendRow(table.Row{step.Name, step.Status, step.Duration.Round(time.Millisecond).String(), step.Detail})
	}
	t.AppendFooter(table.Row{"run " + s.RunID, s.Status, s.Duration.Round(time.Millisecond).String(), ""})
	t.SetStyle(table.StyleLight)
	t.Render()

	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	RenderReport(w, s.Report)
}
