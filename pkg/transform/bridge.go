package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/toques-bi/toques/pkg/helpers"
	"github.com/toques-bi/toques/pkg/logger"
	"github.com/toques-bi/toques/pkg/postgres"
	"github.com/toques-bi/toques/pkg/syncstate"
	"github.com/yourbasic/graph"
)

type database interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Result reports rows upserted per table (-1 when the table failed) and rows touched per
// recompute pass (-1 on failure).
type Result struct {
	Tables map[string]int   `json:"tables"`
	Passes map[string]int64 `json:"passes"`
	Errors []string         `json:"errors,omitempty"`
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

type Bridge struct {
	db            database
	tables        []Table
	passes        []Pass
	defaultTenant string
	logger        logger.Logger
}

func NewBridge(db database, defaultTenant string, l logger.Logger) *Bridge {
	return &Bridge{
		db:            db,
		tables:        Tables(),
		passes:        Passes(),
		defaultTenant: defaultTenant,
		logger:        l,
	}
}

// Run transforms every table in dependency order and then runs the recompute passes. A
// failing table or pass is recorded and skipped; only an unorderable table set is an error.
func (b *Bridge) Run(ctx context.Context) (Result, error) {
	res := Result{Tables: map[string]int{}, Passes: map[string]int64{}}

	ordered, err := Order(b.tables)
	if err != nil {
		return res, err
	}

	for _, t := range ordered {
		start := time.Now()
		n, err := b.transformTable(ctx, t)
		if err != nil {
			res.Tables[t.Name] = -1
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", t.Name, helpers.TruncateMessage(err.Error())))
			b.logger.Errorw("table transform failed", "table", t.Name, "error", err)
			b.markError(ctx, t.Name, err)
			continue
		}

		res.Tables[t.Name] = n
		b.logger.Infow("table transformed", "table", t.Name, "rows", n, "duration", time.Since(start).String())
	}

	for _, p := range b.passes {
		n, err := b.runPass(ctx, p)
		if err != nil {
			res.Passes[p.Name] = -1
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", p.Name, helpers.TruncateMessage(err.Error())))
			b.logger.Errorw("recompute pass failed", "pass", p.Name, "error", err)
			continue
		}

		res.Passes[p.Name] = n
		b.logger.Infow("recompute pass finished", "pass", p.Name, "table", p.Table, "rows", n)
	}

	return res, nil
}

func (b *Bridge) transformTable(ctx context.Context, t Table) (int, error) {
	stmt := t.statement()
	upserted := 0

	err := postgres.WithTx(ctx, b.db, func(tx pgx.Tx) error {
		raws, err := postgres.ReadRaw(ctx, tx, t.Source, t.Match, b.defaultTenant)
		if err != nil {
			return err
		}
		if t.LatestOnly {
			raws = latestPerTenant(raws)
		}

		rows := Dedup(t, raws)
		perTenant := map[string]int64{}
		seeded := map[string]bool{}

		for _, row := range rows {
			for _, p := range t.Parents {
				args, ok := p.args(row)
				if !ok {
					continue
				}
				key := p.Table + "|" + fmt.Sprint(args...)
				if seeded[key] {
					continue
				}
				if _, err := tx.Exec(ctx, p.statement(), args...); err != nil {
					return errors.Wrapf(err, "failed to seed %s", p.Table)
				}
				seeded[key] = true
			}

			if _, err := tx.Exec(ctx, stmt, upsertArgs(row, t.Keys, t.Columns)...); err != nil {
				return errors.Wrapf(err, "failed to upsert into %s", t.Name)
			}
			upserted++
			perTenant[fmt.Sprint(row["tenant_id"])]++
		}

		if len(perTenant) == 0 {
			perTenant[b.defaultTenant] = 0
		}
		tenants := lo.Keys(perTenant)
		sort.Strings(tenants)
		for _, tenant := range tenants {
			if err := syncstate.NewTracker(tx, tenant, false).MarkSuccess(ctx, t.Name, perTenant[tenant]); err != nil {
				return err
			}
		}

		return nil
	})

	return upserted, err
}

func (b *Bridge) markError(ctx context.Context, table string, cause error) {
	if err := syncstate.NewTracker(b.db, b.defaultTenant, false).MarkError(ctx, table, cause); err != nil {
		b.logger.Warnw("failed to record transform error", "table", table, "error", err)
	}
}

func (b *Bridge) runPass(ctx context.Context, p Pass) (int64, error) {
	var affected int64
	err := postgres.WithTx(ctx, b.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, p.SQL)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// Order sorts tables so that every table comes after the tables it depends on.
func Order(tables []Table) ([]Table, error) {
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.Name] = i
	}

	g := graph.New(len(tables))
	for i, t := range tables {
		for _, dep := range t.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, errors.Errorf("table %s depends on unknown table %s", t.Name, dep)
			}
			g.Add(j, i)
		}
	}

	order, ok := graph.TopSort(g)
	if !ok {
		var cycle []string
		for _, component := range graph.StrongComponents(g) {
			if len(component) > 1 {
				for _, i := range component {
					cycle = append(cycle, tables[i].Name)
				}
			}
		}
		return nil, errors.Errorf("table dependencies form a cycle: %s", strings.Join(cycle, ", "))
	}

	return lo.Map(order, func(i int, _ int) Table { return tables[i] }), nil
}

type candidate struct {
	row      Row
	loadedAt time.Time
	rawID    int64
}

// Dedup flattens the raw documents and keeps one row per natural key: the one from the most
// recently landed document, ties going to the higher raw id and then to the later element.
// Rows with a missing key column are dropped. Output follows first appearance.
func Dedup(t Table, raws []postgres.RawRow) []Row {
	latest := map[string]candidate{}
	var order []string

	for _, raw := range raws {
		for _, row := range t.Flatten(raw) {
			key, ok := naturalKey(row, t.Keys)
			if !ok {
				continue
			}

			cur, exists := latest[key]
			if !exists {
				order = append(order, key)
			}
			if !exists || newerOrSame(raw, cur) {
				latest[key] = candidate{row: row, loadedAt: raw.LoadedAt, rawID: raw.ID}
			}
		}
	}

	return lo.Map(order, func(key string, _ int) Row { return latest[key].row })
}

func newerOrSame(raw postgres.RawRow, cur candidate) bool {
	if !raw.LoadedAt.Equal(cur.loadedAt) {
		return raw.LoadedAt.After(cur.loadedAt)
	}
	return raw.ID >= cur.rawID
}

func naturalKey(row Row, keys []string) (string, bool) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := row[k]
		if !ok || isBlank(v) {
			return "", false
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "\x00"), true
}

func latestPerTenant(raws []postgres.RawRow) []postgres.RawRow {
	latest := map[string]postgres.RawRow{}
	for _, raw := range raws {
		cur, ok := latest[raw.TenantID]
		if !ok || raw.LoadedAt.After(cur.LoadedAt) || (raw.LoadedAt.Equal(cur.LoadedAt) && raw.ID > cur.ID) {
			latest[raw.TenantID] = raw
		}
	}

	out := lo.Values(latest)
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
