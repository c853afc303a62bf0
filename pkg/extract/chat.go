package extract

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/apiclient"
	"github.com/toques-bi/toques/pkg/date"
	"github.com/toques-bi/toques/pkg/payload"
)

const (
	historyEndpoint       = "/v1/chat/history/csv"
	conversationsEndpoint = "/v1/chat/agent/conversations"
)

// windowedFeed is a date-filtered, paginated chat feed tracked by a cursor.
type windowedFeed struct {
	endpoint string
	entity   string
	text     bool
}

type chatExtractor struct {
	statsExtractor
	feeds []windowedFeed
}

func NewChatExtractor(deps Deps) Extractor {
	catalogue := func(_ Application, _ date.Window) url.Values { return nil }

	return &chatExtractor{
		statsExtractor: statsExtractor{
			base: base{deps: deps, channel: "chat", table: "raw_chat_stats"},
			endpoints: []endpoint{
				pathScoped("/v1/application/{app}/chat/stats"),
				pathScoped("/v1/application/{app}/chat/stats/dates"),
				pathScoped("/v1/application/{app}/chat/agent/stats/dates"),
				pathScoped("/stats-service/chat/{app}/summary"),
				{path: "/v1/chat/channel", params: withApplication(catalogue)},
				{path: "/v1/chat/topic", params: withApplication(catalogue)},
			},
		},
		feeds: []windowedFeed{
			{endpoint: historyEndpoint, entity: "chat_messages", text: true},
			{endpoint: conversationsEndpoint, entity: "chat_convs"},
		},
	}
}

func withApplication(fn func(Application, date.Window) url.Values) func(Application, date.Window) url.Values {
	return func(app Application, w date.Window) url.Values {
		p := fn(app, w)
		if p == nil {
			p = url.Values{}
		}
		p.Set("applicationId", app.ID)
		return p
	}
}

func (c *chatExtractor) Extract(ctx context.Context, apps []Application) Result {
	lookback := c.lookback()
	return c.run(ctx, apps, func(ctx context.Context, app Application, res *Result) {
		c.fetchEndpoints(ctx, app, lookback, res)
		for _, feed := range c.feeds {
			if err := c.extractFeed(ctx, app, feed, res); err != nil {
				c.fail(res, app, feed.endpoint, err)
			}
		}
	})
}

// CursorEntity names the sync-state entry of a feed for one application.
func CursorEntity(feed string, app Application) string {
	return fmt.Sprintf("%s:%s", feed, app.ID)
}

// extractFeed walks the feed from the stored cursor (or the full lookback) in sub-windows no
// larger than the provider accepts. The cursor only advances once every window is stored,
// so feed requests treat a non-success status as an error rather than an empty page.
func (c *chatExtractor) extractFeed(ctx context.Context, app Application, feed windowedFeed, res *Result) error {
	tracker := c.deps.Cursors(app.TenantID)
	entity := CursorEntity(feed.entity, app)
	now := c.deps.now()

	cursor, _, err := tracker.GetCursor(ctx, entity)
	if err != nil {
		return err
	}

	if err := tracker.MarkRunning(ctx, entity); err != nil {
		return err
	}

	window := date.IncrementalWindow(now, c.deps.Config.DaysBack, cursor)
	strict := apiclient.RequireSuccess(ctx)
	pages := 0
	for _, w := range date.Split(window, c.deps.Config.MaxWindowDays) {
		n, err := c.paginate(strict, app, feed.endpoint, appWindowParams(app, w), w, c.feedFetcher(feed, app), res)
		pages += n
		if err != nil {
			err = errors.Wrapf(err, "window %s..%s", w.FromString(), w.ToString())
			if markErr := tracker.MarkError(ctx, entity, err); markErr != nil {
				c.deps.Logger.Warnw("failed to record sync error", "entity", entity, "error", markErr)
			}
			return err
		}
	}

	c.deps.Logger.Debugw("feed extracted", "channel", c.channel, "application_id", app.ID, "endpoint", feed.endpoint,
		"from", window.FromString(), "to", window.ToString(), "pages", pages)

	return tracker.UpdateCursor(ctx, entity, now.UTC().Format(time.RFC3339), int64(pages))
}

func (c *chatExtractor) feedFetcher(feed windowedFeed, app Application) pageFetcher {
	if !feed.text {
		return c.jsonPages(feed.endpoint, app)
	}

	return func(ctx context.Context, params url.Values) (payload.Document, error) {
		text, err := c.deps.API.GetText(ctx, feed.endpoint, params, app.ID)
		if err != nil {
			return payload.Document{}, err
		}
		return csvDocument(text)
	}
}
