package extract

import (
	"context"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/toques-bi/toques/pkg/config"
	"github.com/toques-bi/toques/pkg/logger"
	"github.com/toques-bi/toques/pkg/postgres"
)

const (
	applicationsEndpoint = "/v1/application"
	discoveryAppID       = "discovery"
)

var ErrNoApplications = errors.New("no applications discovered")

// applicationEntry is the permissive shape of one element of the application listing; ids
// arrive as numbers or strings depending on the account.
type applicationEntry struct {
	AppKey        string `mapstructure:"appKey"`
	ID            string `mapstructure:"id"`
	ApplicationID string `mapstructure:"applicationId"`
	Name          string `mapstructure:"name"`
}

func (e applicationEntry) id() string {
	return lo.CoalesceOrEmpty(e.AppKey, e.ID, e.ApplicationID)
}

type Discoverer struct {
	api      API
	store    Store
	tenants  config.Tenant
	config   config.Extraction
	logger   logger.Logger
	selector *vm.Program
}

func NewDiscoverer(api API, store Store, tenants config.Tenant, c config.Extraction, l logger.Logger) (*Discoverer, error) {
	d := &Discoverer{api: api, store: store, tenants: tenants, config: c, logger: l}

	if filter := strings.TrimSpace(c.ApplicationFilter); filter != "" {
		program, err := expr.Compile(filter, expr.Env(selectorEnv(Application{})), expr.AsBool())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid application filter %q", filter)
		}
		d.selector = program
	}

	return d, nil
}

func selectorEnv(app Application) map[string]any {
	return map[string]any{"id": app.ID, "name": app.Name}
}

// Discover lists the provider applications, lands the listing and returns the selected ones.
func (d *Discoverer) Discover(ctx context.Context) ([]Application, error) {
	doc, err := d.api.Get(ctx, applicationsEndpoint, nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list applications")
	}

	if _, err := d.store.StoreRaw(ctx, postgres.RawDocument{
		Table:         "raw_applications",
		ApplicationID: discoveryAppID,
		TenantID:      d.tenants.Default,
		Endpoint:      applicationsEndpoint,
		Data:          doc,
	}); err != nil {
		d.logger.Warnw("failed to land application listing", "error", err)
	}

	all := make([]Application, 0)
	for _, rec := range doc.Records() {
		var entry applicationEntry
		if err := mapstructure.WeakDecode(rec.Value(), &entry); err != nil {
			d.logger.Debugw("skipping undecodable application", "raw", string(rec.Raw()), "error", err)
			continue
		}
		id := entry.id()
		if id == "" {
			continue
		}
		all = append(all, Application{ID: id, Name: entry.Name, TenantID: d.tenants.For(id)})
	}

	all = lo.UniqBy(all, func(a Application) string { return a.ID })
	if len(all) == 0 {
		return nil, ErrNoApplications
	}

	selected, err := d.selectApps(all)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		selected = lo.Slice(all, 0, max(d.config.MaxFallbackApps, 1))
		d.logger.Warnw("no application matched the selection, falling back", "count", len(selected))
	}

	d.logger.Infow("applications selected", "discovered", len(all), "selected", len(selected),
		"ids", lo.Map(selected, func(a Application, _ int) string { return a.ID }))

	return selected, nil
}

func (d *Discoverer) selectApps(all []Application) ([]Application, error) {
	if d.selector != nil {
		var out []Application
		for _, app := range all {
			matched, err := expr.Run(d.selector, selectorEnv(app))
			if err != nil {
				return nil, errors.Wrapf(err, "application filter failed for %s", app.ID)
			}
			if ok, _ := matched.(bool); ok {
				out = append(out, app)
			}
		}
		return out, nil
	}

	keywords := lo.FilterMap(d.config.ApplicationKeywords, func(k string, _ int) (string, bool) {
		k = strings.ToLower(strings.TrimSpace(k))
		return k, k != ""
	})
	if len(keywords) == 0 {
		return nil, nil
	}

	return lo.Filter(all, func(app Application, _ int) bool {
		name := strings.ToLower(app.Name)
		return lo.SomeBy(keywords, func(k string) bool { return strings.Contains(name, k) })
	}), nil
}
