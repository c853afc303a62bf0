package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/toques-bi/toques/pkg/date"
)

// endpoint is a stats endpoint fetched once per application over the lookback window.
// {app} in the path is replaced with the application id.
type endpoint struct {
	path   string
	params func(app Application, w date.Window) url.Values
}

func (e endpoint) resolve(app Application) string {
	return strings.ReplaceAll(e.path, "{app}", url.PathEscape(app.ID))
}

func pathScoped(path string) endpoint {
	return endpoint{path: path, params: func(_ Application, w date.Window) url.Values { return windowParams(w) }}
}

func queryScoped(path string) endpoint {
	return endpoint{path: path, params: appWindowParams}
}

type statsExtractor struct {
	base
	endpoints []endpoint
}

func (s *statsExtractor) Extract(ctx context.Context, apps []Application) Result {
	w := s.lookback()
	return s.run(ctx, apps, func(ctx context.Context, app Application, res *Result) {
		s.fetchEndpoints(ctx, app, w, res)
	})
}

func (s *statsExtractor) fetchEndpoints(ctx context.Context, app Application, w date.Window, res *Result) {
	for _, ep := range s.endpoints {
		s.fetchOne(ctx, app, ep.resolve(app), ep.params(app, w), w, res)
	}
}

func NewPushExtractor(deps Deps) Extractor {
	return &statsExtractor{
		base: base{deps: deps, channel: "push", table: "raw_push_stats"},
		endpoints: []endpoint{
			pathScoped("/v1/application/{app}/dateStats"),
			pathScoped("/v1/application/{app}/stats"),
			pathScoped("/v1/application/{app}/stats/devices"),
			pathScoped("/v1/application/{app}/pushHeatmap"),
		},
	}
}

func NewSMSExtractor(deps Deps) Extractor {
	return &statsExtractor{
		base: base{deps: deps, channel: "sms", table: "raw_sms_stats"},
		endpoints: []endpoint{
			queryScoped("/sms/stats/application"),
			queryScoped("/sms/stats/campaign"),
			queryScoped("/sms/stats/cost"),
		},
	}
}

func NewEmailExtractor(deps Deps) Extractor {
	return &statsExtractor{
		base: base{deps: deps, channel: "email", table: "raw_email_stats"},
		endpoints: []endpoint{
			queryScoped("/es/statistics"),
			queryScoped("/es/statistics/campaign"),
		},
	}
}

func NewInAppExtractor(deps Deps) Extractor {
	return &statsExtractor{
		base: base{deps: deps, channel: "inapp", table: "raw_inapp_stats"},
		endpoints: []endpoint{
			queryScoped("/inapp/stats/application"),
			queryScoped("/inapp/stats/campaign"),
		},
	}
}
