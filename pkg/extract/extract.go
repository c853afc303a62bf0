package extract

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/toques-bi/toques/pkg/config"
	"github.com/toques-bi/toques/pkg/date"
	"github.com/toques-bi/toques/pkg/helpers"
	"github.com/toques-bi/toques/pkg/logger"
	"github.com/toques-bi/toques/pkg/payload"
	"github.com/toques-bi/toques/pkg/postgres"
)

type API interface {
	Get(ctx context.Context, endpoint string, params url.Values, applicationID string) (payload.Document, error)
	GetText(ctx context.Context, endpoint string, params url.Values, applicationID string) (string, error)
}

type Store interface {
	StoreRaw(ctx context.Context, doc postgres.RawDocument) (bool, error)
}

type CursorTracker interface {
	GetCursor(ctx context.Context, entity string) (string, bool, error)
	UpdateCursor(ctx context.Context, entity, cursor string, records int64) error
	MarkRunning(ctx context.Context, entity string) error
	MarkError(ctx context.Context, entity string, cause error) error
}

// Application is a provider application selected for extraction.
type Application struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TenantID string `json:"tenant_id"`
}

type Deps struct {
	API     API
	Store   Store
	Cursors func(tenantID string) CursorTracker
	Logger  logger.Logger
	Config  config.Extraction
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Result summarizes one extractor run over all applications.
type Result struct {
	Channel  string   `json:"channel"`
	Pages    int      `json:"pages"`
	Failures int      `json:"failures"`
	Errors   []string `json:"errors,omitempty"`
}

func (r Result) OK() bool { return r.Failures == 0 }

type Extractor interface {
	Channel() string
	Extract(ctx context.Context, apps []Application) Result
}

// base holds what every channel extractor shares: where pages land and how failures are
// isolated per application and per endpoint.
type base struct {
	deps    Deps
	channel string
	table   string
}

func (b *base) Channel() string { return b.channel }

func (b *base) run(ctx context.Context, apps []Application, perApp func(ctx context.Context, app Application, res *Result)) Result {
	res := Result{Channel: b.channel}

	for _, app := range apps {
		b.deps.Logger.Infow("extracting", "channel", b.channel, "application_id", app.ID, "application", app.Name)

		var catcher panics.Catcher
		catcher.Try(func() { perApp(ctx, app, &res) })
		if recovered := catcher.Recovered(); recovered != nil {
			b.fail(&res, app, "", recovered.AsError())
		}
	}

	b.deps.Logger.Infow("channel finished", "channel", b.channel, "pages", res.Pages, "failures", res.Failures)
	return res
}

func (b *base) fail(res *Result, app Application, endpoint string, err error) {
	res.Failures++
	msg := helpers.TruncateMessage(err.Error())
	if endpoint != "" {
		msg = fmt.Sprintf("%s %s: %s", app.ID, endpoint, msg)
	} else {
		msg = fmt.Sprintf("%s: %s", app.ID, msg)
	}
	res.Errors = append(res.Errors, msg)
	b.deps.Logger.Warnw("extraction failed", "channel", b.channel, "application_id", app.ID, "endpoint", endpoint, "error", err)
}

// store lands a document for app; empty documents are silently skipped.
func (b *base) store(ctx context.Context, app Application, endpoint string, w date.Window, doc payload.Document, res *Result) error {
	from, to := w.From, w.To
	stored, err := b.deps.Store.StoreRaw(ctx, postgres.RawDocument{
		Table:         b.table,
		ApplicationID: app.ID,
		TenantID:      app.TenantID,
		Endpoint:      endpoint,
		DateFrom:      &from,
		DateTo:        &to,
		Data:          doc,
	})
	if err != nil {
		return err
	}
	if stored {
		res.Pages++
	}
	return nil
}

// fetchOne fetches a single endpoint and lands the response.
func (b *base) fetchOne(ctx context.Context, app Application, endpoint string, params url.Values, w date.Window, res *Result) {
	doc, err := b.deps.API.Get(ctx, endpoint, params, app.ID)
	if err != nil {
		b.fail(res, app, endpoint, err)
		return
	}

	if err := b.store(ctx, app, endpoint, w, doc, res); err != nil {
		b.fail(res, app, endpoint, err)
	}
}

func (b *base) lookback() date.Window {
	return date.LookbackWindow(b.deps.now(), b.deps.Config.DaysBack)
}

func windowParams(w date.Window) url.Values {
	return url.Values{
		"dateFrom": {w.FromString()},
		"dateTo":   {w.ToString()},
	}
}

func appWindowParams(app Application, w date.Window) url.Values {
	p := windowParams(w)
	p.Set("applicationId", app.ID)
	return p
}
