package extract

import (
	"context"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/date"
	"github.com/toques-bi/toques/pkg/payload"
)

type pageFetcher func(ctx context.Context, params url.Values) (payload.Document, error)

func (b *base) jsonPages(endpoint string, app Application) pageFetcher {
	return func(ctx context.Context, params url.Values) (payload.Document, error) {
		return b.deps.API.Get(ctx, endpoint, params, app.ID)
	}
}

// paginate requests page 0, 1, 2... until a page shorter than the page size arrives or the
// page limit is hit, landing every non-empty page. It returns the number of pages stored.
func (b *base) paginate(ctx context.Context, app Application, endpoint string, params url.Values, w date.Window, fetch pageFetcher, res *Result) (int, error) {
	size := b.deps.Config.PageSize
	if size <= 0 {
		size = 100
	}
	maxPages := b.deps.Config.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	stored := 0
	for page := 0; page < maxPages; page++ {
		p := url.Values{}
		for k, v := range params {
			p[k] = append([]string(nil), v...)
		}
		p.Set("page", strconv.Itoa(page))
		p.Set("size", strconv.Itoa(size))

		doc, err := fetch(ctx, p)
		if err != nil {
			return stored, errors.Wrapf(err, "page %d", page)
		}
		if doc.IsEmpty() {
			return stored, nil
		}

		before := res.Pages
		if err := b.store(ctx, app, endpoint, w, doc, res); err != nil {
			return stored, errors.Wrapf(err, "page %d", page)
		}
		stored += res.Pages - before

		if len(doc.Records()) < size {
			return stored, nil
		}
	}

	b.deps.Logger.Warnw("page limit reached", "channel", b.channel, "application_id", app.ID, "endpoint", endpoint, "max_pages", maxPages)
	return stored, nil
}

type pagedExtractor struct {
	base
	paged  []string
	single []endpoint
}

func (p *pagedExtractor) Extract(ctx context.Context, apps []Application) Result {
	w := p.lookback()
	return p.run(ctx, apps, func(ctx context.Context, app Application, res *Result) {
		for _, ep := range p.paged {
			params := url.Values{"applicationId": {app.ID}}
			if _, err := p.paginate(ctx, app, ep, params, w, p.jsonPages(ep, app), res); err != nil {
				p.fail(res, app, ep, err)
			}
		}
		for _, ep := range p.single {
			p.fetchOne(ctx, app, ep.resolve(app), ep.params(app, w), w, res)
		}
	})
}

func NewCampaignsExtractor(deps Deps) Extractor {
	return &pagedExtractor{
		base:  base{deps: deps, channel: "campaigns", table: "raw_campaigns_api"},
		paged: []string{"/v1/campaign"},
	}
}

func NewContactsExtractor(deps Deps) Extractor {
	return &pagedExtractor{
		base:  base{deps: deps, channel: "contacts", table: "raw_contacts_api"},
		paged: []string{"/v1/chat/contacts"},
		single: []endpoint{{
			path:   "/v1/chat/agents/status",
			params: func(app Application, _ date.Window) url.Values { return url.Values{"applicationId": {app.ID}} },
		}},
	}
}
