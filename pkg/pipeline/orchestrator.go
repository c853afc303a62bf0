package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/downstream"
	"github.com/toques-bi/toques/pkg/extract"
	"github.com/toques-bi/toques/pkg/logger"
	"github.com/toques-bi/toques/pkg/transform"
)

type Status string

const (
	StatusSuccess      Status = "success"
	StatusPartialError Status = "partial_error"
	StatusError        Status = "error"
)

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Options select which steps a run executes.
type Options struct {
	SkipExtract    bool `json:"skip_extract"`
	SkipDownstream bool `json:"skip_dbt"`
	TransformOnly  bool `json:"transform_only"`
	FullRefresh    bool `json:"full_refresh"`
}

func (o Options) extract() bool    { return !o.SkipExtract && !o.TransformOnly }
func (o Options) downstream() bool { return !o.SkipDownstream && !o.TransformOnly }

type StepSummary struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// Summary is everything a finished run produced.
type Summary struct {
	RunID      string                  `json:"run_id"`
	Status     Status                  `json:"status"`
	Options    Options                 `json:"options"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Duration   time.Duration           `json:"duration"`
	Steps      []StepSummary           `json:"steps"`
	Extract    []extract.Result        `json:"extract,omitempty"`
	Transform  *transform.Result       `json:"transform,omitempty"`
	Downstream []downstream.StepResult `json:"downstream,omitempty"`
	Report     *Report                 `json:"report,omitempty"`
	Errors     []string                `json:"errors,omitempty"`

	fatal bool
}

func (s *Summary) step(name string, status StepStatus, started time.Time, detail string) {
	s.Steps = append(s.Steps, StepSummary{Name: name, Status: status, Duration: time.Since(started), Detail: detail})
}

func (s *Summary) fail(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

type Authenticator interface {
	Authenticate(ctx context.Context) error
}

type Discoverer interface {
	Discover(ctx context.Context) ([]extract.Application, error)
}

type Transformer interface {
	Run(ctx context.Context) (transform.Result, error)
}

type Downstream interface {
	Run(ctx context.Context) []downstream.StepResult
}

type ReportBuilder interface {
	Report(ctx context.Context) (*Report, error)
}

type Deps struct {
	Auth        Authenticator
	Discoverer  Discoverer
	Extractors  func(fullRefresh bool) []extract.Extractor
	Transformer Transformer
	Downstream  Downstream
	Reporter    ReportBuilder
	Logger      logger.Logger
}

// Orchestrator runs extract, transform, downstream and report in sequence. No step failure
// stops the steps after it.
type Orchestrator struct {
	deps Deps
}

func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

func (o *Orchestrator) Run(ctx context.Context, runID string, opts Options) *Summary {
	s := &Summary{RunID: runID, Options: opts, StartedAt: time.Now()}
	l := o.deps.Logger

	l.Infow("pipeline started", "run_id", runID, "skip_extract", opts.SkipExtract, "skip_dbt", opts.SkipDownstream,
		"transform_only", opts.TransformOnly, "full_refresh", opts.FullRefresh)

	if opts.extract() {
		o.extract(ctx, s, opts)
	} else {
		s.step("extract", StepSkipped, time.Now(), "")
	}

	o.transform(ctx, s)

	if opts.downstream() {
		o.downstream(ctx, s)
	} else {
		s.step("downstream", StepSkipped, time.Now(), "")
	}

	o.report(ctx, s)

	o.finish(s)
	return s
}

// Extract runs only the extraction step, leaving raw data in place for a later transform.
func (o *Orchestrator) Extract(ctx context.Context, runID string, fullRefresh bool) *Summary {
	opts := Options{SkipDownstream: true, FullRefresh: fullRefresh}
	s := &Summary{RunID: runID, Options: opts, StartedAt: time.Now()}

	o.deps.Logger.Infow("extraction started", "run_id", runID, "full_refresh", fullRefresh)
	o.extract(ctx, s, opts)

	o.finish(s)
	return s
}

func (o *Orchestrator) finish(s *Summary) {
	s.FinishedAt = time.Now()
	s.Duration = s.FinishedAt.Sub(s.StartedAt)
	switch {
	case s.fatal:
		s.Status = StatusError
	case len(s.Errors) > 0:
		s.Status = StatusPartialError
	default:
		s.Status = StatusSuccess
	}

	o.deps.Logger.Infow("pipeline finished", "run_id", s.RunID, "status", s.Status, "duration", s.Duration.String(), "errors", len(s.Errors))
}

func (o *Orchestrator) extract(ctx context.Context, s *Summary, opts Options) {
	started := time.Now()

	if err := o.deps.Auth.Authenticate(ctx); err != nil {
		o.fatal(s, started, errors.Wrap(err, "authentication failed"))
		return
	}

	apps, err := o.deps.Discoverer.Discover(ctx)
	if err != nil {
		o.fatal(s, started, errors.Wrap(err, "application discovery failed"))
		return
	}

	pages, failures := 0, 0
	for _, e := range o.deps.Extractors(opts.FullRefresh) {
		res := e.Extract(ctx, apps)
		s.Extract = append(s.Extract, res)
		pages += res.Pages
		failures += res.Failures
		for _, msg := range res.Errors {
			s.fail("extract %s: %s", res.Channel, msg)
		}
	}

	status := StepOK
	if failures > 0 {
		status = StepFailed
	}
	s.step("extract", status, started, fmt.Sprintf("%d applications, %d pages, %d failures", len(apps), pages, failures))
}

func (o *Orchestrator) fatal(s *Summary, started time.Time, err error) {
	s.fatal = true
	s.fail("%s", err.Error())
	s.step("extract", StepFailed, started, err.Error())
	o.deps.Logger.Errorw("extraction aborted, continuing with existing raw data", "error", err)
}

func (o *Orchestrator) transform(ctx context.Context, s *Summary) {
	started := time.Now()

	res, err := o.deps.Transformer.Run(ctx)
	if err != nil {
		s.fail("transform: %s", err.Error())
		s.step("transform", StepFailed, started, err.Error())
		return
	}

	s.Transform = &res
	rows := 0
	for _, n := range res.Tables {
		if n > 0 {
			rows += n
		}
	}
	for _, msg := range res.Errors {
		s.fail("transform %s", msg)
	}

	status := StepOK
	if !res.OK() {
		status = StepFailed
	}
	s.step("transform", status, started, fmt.Sprintf("%d rows upserted, %d errors", rows, len(res.Errors)))
}

func (o *Orchestrator) downstream(ctx context.Context, s *Summary) {
	for _, step := range o.deps.Downstream.Run(ctx) {
		s.Downstream = append(s.Downstream, step)

		status := StepOK
		switch {
		case step.Skipped:
			status = StepSkipped
		case !step.OK:
			status = StepFailed
			s.fail("%s: %s", step.Name, step.Error)
		}
		s.Steps = append(s.Steps, StepSummary{Name: step.Name, Status: status, Duration: step.Duration, Detail: step.Command})
	}
}

func (o *Orchestrator) report(ctx context.Context, s *Summary) {
	started := time.Now()

	rep, err := o.deps.Reporter.Report(ctx)
	s.Report = rep
	if err != nil {
		s.fail("report: %s", err.Error())
		s.step("report", StepFailed, started, err.Error())
		return
	}

	s.step("report", StepOK, started, "")
}
