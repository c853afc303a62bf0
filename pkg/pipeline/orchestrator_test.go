package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toques-bi/toques/pkg/downstream"
	"github.com/toques-bi/toques/pkg/extract"
	"github.com/toques-bi/toques/pkg/transform"
	"go.uber.org/zap"
)

type fakeAuth struct{ err error }

func (f fakeAuth) Authenticate(context.Context) error { return f.err }

type fakeDiscoverer struct {
	apps []extract.Application
	err  error
}

func (f fakeDiscoverer) Discover(context.Context) ([]extract.Application, error) { return f.apps, f.err }

type fakeExtractor struct {
	channel string
	result  extract.Result
	calls   *int
}

func (f fakeExtractor) Channel() string { return f.channel }

func (f fakeExtractor) Extract(context.Context, []extract.Application) extract.Result {
	if f.calls != nil {
		*f.calls++
	}
	res := f.result
	res.Channel = f.channel
	return res
}

type fakeTransformer struct {
	res   transform.Result
	err   error
	calls int
}

func (f *fakeTransformer) Run(context.Context) (transform.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeDownstream struct {
	steps []downstream.StepResult
	calls int
}

func (f *fakeDownstream) Run(context.Context) []downstream.StepResult {
	f.calls++
	return f.steps
}

type fakeReporter struct {
	err   error
	calls int
}

func (f *fakeReporter) Report(context.Context) (*Report, error) {
	f.calls++
	return &Report{Tenant: "visionamos"}, f.err
}

type harness struct {
	deps        Deps
	extractions *int
	fullRefresh *bool
	transformer *fakeTransformer
	downstream  *fakeDownstream
	reporter    *fakeReporter
}

func newHarness() *harness {
	h := &harness{
		extractions: new(int),
		fullRefresh: new(bool),
		transformer: &fakeTransformer{res: transform.Result{Tables: map[string]int{"messages": 3}}},
		downstream: &fakeDownstream{steps: []downstream.StepResult{
			{Name: "dbt-run", OK: true},
			{Name: "dbt-test", OK: true},
		}},
		reporter: &fakeReporter{},
	}
	h.deps = Deps{
		Auth:       fakeAuth{},
		Discoverer: fakeDiscoverer{apps: []extract.Application{{ID: "100274"}}},
		Extractors: func(fullRefresh bool) []extract.Extractor {
			*h.fullRefresh = fullRefresh
			return []extract.Extractor{
				fakeExtractor{channel: "push", result: extract.Result{Pages: 4}, calls: h.extractions},
				fakeExtractor{channel: "chat", result: extract.Result{Pages: 2}, calls: h.extractions},
			}
		},
		Transformer: h.transformer,
		Downstream:  h.downstream,
		Reporter:    h.reporter,
		Logger:      zap.NewNop().Sugar(),
	}
	return h
}

func stepStatuses(s *Summary) map[string]StepStatus {
	out := map[string]StepStatus{}
	for _, step := range s.Steps {
		out[step.Name] = step.Status
	}
	return out
}

func TestOrchestrator_Run(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       Options
		modify     func(h *harness)
		wantStatus Status
		wantSteps  map[string]StepStatus
		wantErrors int
		check      func(t *testing.T, h *harness, s *Summary)
	}{
		{
			name:       "everything succeeds",
			wantStatus: StatusSuccess,
			wantSteps: map[string]StepStatus{
				"extract": StepOK, "transform": StepOK, "dbt-run": StepOK, "dbt-test": StepOK, "report": StepOK,
			},
			check: func(t *testing.T, h *harness, s *Summary) {
				assert.Equal(t, 2, *h.extractions)
				assert.Len(t, s.Extract, 2)
				assert.NotNil(t, s.Transform)
				assert.NotNil(t, s.Report)
			},
		},
		{
			name: "authentication failure is fatal but later steps still run",
			modify: func(h *harness) {
				h.deps.Auth = fakeAuth{err: errors.New("401 invalid credentials")}
			},
			wantStatus: StatusError,
			wantSteps: map[string]StepStatus{
				"extract": StepFailed, "transform": StepOK, "dbt-run": StepOK, "dbt-test": StepOK, "report": StepOK,
			},
			wantErrors: 1,
			check: func(t *testing.T, h *harness, s *Summary) {
				assert.Zero(t, *h.extractions)
				assert.Equal(t, 1, h.transformer.calls)
				assert.Contains(t, s.Errors[0], "authentication failed: 401 invalid credentials")
			},
		},
		{
			name: "discovery failure is fatal",
			modify: func(h *harness) {
				h.deps.Discoverer = fakeDiscoverer{err: extract.ErrNoApplications}
			},
			wantStatus: StatusError,
			wantErrors: 1,
			check: func(t *testing.T, h *harness, s *Summary) {
				assert.Zero(t, *h.extractions)
				assert.Equal(t, 1, h.reporter.calls)
			},
		},
		{
			name: "failing channel does not stop the others",
			modify: func(h *harness) {
				h.deps.Extractors = func(bool) []extract.Extractor {
					return []extract.Extractor{
						fakeExtractor{channel: "sms", result: extract.Result{Failures: 2, Errors: []string{"a", "b"}}, calls: h.extractions},
						fakeExtractor{channel: "email", result: extract.Result{Pages: 3}, calls: h.extractions},
					}
				}
			},
			wantStatus: StatusPartialError,
			wantSteps:  map[string]StepStatus{"extract": StepFailed},
			wantErrors: 2,
			check: func(t *testing.T, h *harness, s *Summary) {
				assert.Equal(t, 2, *h.extractions)
				assert.Equal(t, 3, s.Extract[1].Pages)
			},
		},
		{
			name: "table and downstream failures are partial",
			modify: func(h *harness) {
				h.transformer.res = transform.Result{Tables: map[string]int{"messages": -1}, Errors: []string{"messages: boom"}}
				h.downstream.steps = []downstream.StepResult{{Name: "dbt-run", Error: "exit status 1"}, {Name: "dbt-test", OK: true}}
			},
			wantStatus: StatusPartialError,
			wantSteps:  map[string]StepStatus{"transform": StepFailed, "dbt-run": StepFailed, "dbt-test": StepOK},
			wantErrors: 2,
		},
		{
			name:       "report failure is partial",
			modify:     func(h *harness) { h.reporter.err = errors.New("connection refused") },
			wantStatus: StatusPartialError,
			wantSteps:  map[string]StepStatus{"report": StepFailed},
			wantErrors: 1,
		},
		{
			name:       "transform only",
			opts:       Options{TransformOnly: true},
			wantStatus: StatusSuccess,
			wantSteps:  map[string]StepStatus{"extract": StepSkipped, "downstream": StepSkipped, "transform": StepOK},
			check: func(t *testing.T, h *harness, s *Summary) {
				assert.Zero(t, *h.extractions)
				assert.Zero(t, h.downstream.calls)
				assert.Equal(t, 1, h.reporter.calls)
			},
		},
		{
			name:       "full refresh reaches the extractors",
			opts:       Options{FullRefresh: true, SkipDownstream: true},
			wantStatus: StatusSuccess,
			wantSteps:  map[string]StepStatus{"downstream": StepSkipped},
			check: func(t *testing.T, h *harness, s *Summary) {
				assert.True(t, *h.fullRefresh)
				assert.Zero(t, h.downstream.calls)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			if tt.modify != nil {
				tt.modify(h)
			}

			s := NewOrchestrator(h.deps).Run(context.Background(), "run-1", tt.opts)

			require.NotNil(t, s)
			assert.Equal(t, "run-1", s.RunID)
			assert.Equal(t, tt.wantStatus, s.Status)
			assert.Len(t, s.Errors, tt.wantErrors)

			got := stepStatuses(s)
			for name, want := range tt.wantSteps {
				assert.Equal(t, want, got[name], name)
			}
			if tt.check != nil {
				tt.check(t, h, s)
			}
		})
	}
}

func TestOrchestrator_Extract(t *testing.T) {
	t.Parallel()

	h := newHarness()
	s := NewOrchestrator(h.deps).Extract(context.Background(), "run-2", true)

	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, 2, *h.extractions)
	assert.True(t, *h.fullRefresh)
	assert.Zero(t, h.transformer.calls)
	assert.Zero(t, h.downstream.calls)
	assert.Zero(t, h.reporter.calls)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "extract", s.Steps[0].Name)
}

func TestOrchestrator_ExtractAuthFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.deps.Auth = fakeAuth{err: errors.New("401 unauthorized")}
	s := NewOrchestrator(h.deps).Extract(context.Background(), "run-3", false)

	assert.Equal(t, StatusError, s.Status)
	assert.Zero(t, *h.extractions)
	require.Len(t, s.Errors, 1)
	assert.Contains(t, s.Errors[0], "authentication failed")
}
