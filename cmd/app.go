package cmd

import (
	"context"
	"io"
	"net/url"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/toques-bi/toques/pkg/apiclient"
	"github.com/toques-bi/toques/pkg/config"
	"github.com/toques-bi/toques/pkg/downstream"
	"github.com/toques-bi/toques/pkg/extract"
	"github.com/toques-bi/toques/pkg/payload"
	"github.com/toques-bi/toques/pkg/pipeline"
	"github.com/toques-bi/toques/pkg/postgres"
	"github.com/toques-bi/toques/pkg/syncstate"
	"github.com/toques-bi/toques/pkg/transform"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var fs = afero.NewOsFs()

// app holds what every command needs: the validated configuration, a logger and the database.
type app struct {
	config *config.Config
	logger *zap.SugaredLogger
	db     *postgres.Client
}

func newApp(c *cli.Context) (*app, error) {
	logger := makeLogger(c.Bool("debug"))

	cfg, err := config.Load(fs, c.String("config"))
	if err != nil {
		return nil, err
	}

	db, err := postgres.NewClient(c.Context, postgres.Config{
		URL:          cfg.Database.URL,
		PoolMaxConns: cfg.Database.PoolMaxConns,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Ping(c.Context); err != nil {
		db.Close()
		return nil, err
	}

	return &app{config: cfg, logger: logger, db: db}, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.logger.Sync()
}

// unavailableAPI stands in for the provider client when it cannot be built, so that the
// run still reports the failure as an authentication error and proceeds with existing data.
type unavailableAPI struct {
	err error
}

func (u unavailableAPI) Authenticate(context.Context) error { return u.err }

func (u unavailableAPI) Get(context.Context, string, url.Values, string) (payload.Document, error) {
	return payload.Document{}, u.err
}

func (u unavailableAPI) GetText(context.Context, string, url.Values, string) (string, error) {
	return "", u.err
}

type providerAPI interface {
	pipeline.Authenticator
	extract.API
}

func (a *app) api() providerAPI {
	client, err := apiclient.NewClient(a.config.API, postgres.NewCallLog(a.db, a.config.Tenant.Default), a.logger)
	if err != nil {
		a.logger.Warnw("provider API client unavailable", "error", err)
		return unavailableAPI{err: err}
	}
	return client
}

func (a *app) orchestrator(downstreamOutput io.Writer) (*pipeline.Orchestrator, error) {
	api := a.api()

	discoverer, err := extract.NewDiscoverer(api, a.db, a.config.Tenant, a.config.Extraction, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up application discovery")
	}

	extractors := func(fullRefresh bool) []extract.Extractor {
		return extract.All(extract.Deps{
			API:   api,
			Store: a.db,
			Cursors: func(tenantID string) extract.CursorTracker {
				return syncstate.NewTracker(a.db, tenantID, fullRefresh)
			},
			Logger: a.logger,
			Config: a.config.Extraction,
		}, a.config.Extraction.Channels...)
	}

	return pipeline.NewOrchestrator(pipeline.Deps{
		Auth:        api,
		Discoverer:  discoverer,
		Extractors:  extractors,
		Transformer: transform.NewBridge(a.db, a.config.Tenant.Default, a.logger),
		Downstream:  downstream.NewRunner(a.config.Downstream, downstreamOutput, a.logger),
		Reporter:    pipeline.NewReporter(a.db, a.config.Tenant.Default),
		Logger:      a.logger,
	}), nil
}
