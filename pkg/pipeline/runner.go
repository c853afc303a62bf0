package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/panics"
	"github.com/toques-bi/toques/pkg/logger"
)

var ErrAlreadyRunning = errors.New("pipeline already running")

type Executor interface {
	Run(ctx context.Context, runID string, opts Options) *Summary
}

// RunnerStatus is a point-in-time view of the background runner.
type RunnerStatus struct {
	Running      bool       `json:"running"`
	RunID        string     `json:"run_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastRun      *time.Time `json:"last_run"`
	LastStatus   Status     `json:"last_status,omitempty"`
	LastDuration float64    `json:"last_duration_s"`
	LastResults  *Summary   `json:"last_results"`
}

// Runner executes at most one pipeline run at a time in the background. A start request while
// a run is in flight is rejected, not queued.
type Runner struct {
	executor Executor
	logger   logger.Logger
	newID    func() string

	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status RunnerStatus
}

func NewRunner(executor Executor, l logger.Logger) *Runner {
	return &Runner{executor: executor, logger: l, newID: uuid.NewString}
}

// Start launches a run and returns its id without waiting for it. The run does not inherit
// any request context.
func (r *Runner) Start(opts Options) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}

	id := r.newID()
	now := time.Now()

	r.mu.Lock()
	r.status.Running = true
	r.status.RunID = id
	r.status.StartedAt = &now
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(id, opts, now)

	return id, nil
}

func (r *Runner) run(id string, opts Options, started time.Time) {
	defer r.wg.Done()
	defer r.running.Store(false)

	var summary *Summary
	var catcher panics.Catcher
	catcher.Try(func() { summary = r.executor.Run(context.Background(), id, opts) })

	if recovered := catcher.Recovered(); recovered != nil {
		r.logger.Errorw("pipeline run panicked", "run_id", id, "panic", recovered.String())
		finished := time.Now()
		summary = &Summary{
			RunID:      id,
			Status:     StatusError,
			Options:    opts,
			StartedAt:  started,
			FinishedAt: finished,
			Duration:   finished.Sub(started),
			Errors:     []string{recovered.AsError().Error()},
		}
	}
	if summary == nil {
		summary = &Summary{RunID: id, Status: StatusError, Options: opts, StartedAt: started, Errors: []string{"run produced no summary"}}
	}

	finished := time.Now()

	r.mu.Lock()
	r.status.Running = false
	r.status.LastRun = &finished
	r.status.LastStatus = summary.Status
	r.status.LastDuration = finished.Sub(started).Round(time.Millisecond).Seconds()
	r.status.LastResults = summary
	r.mu.Unlock()
}

func (r *Runner) Status() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Wait blocks until the in-flight run, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
