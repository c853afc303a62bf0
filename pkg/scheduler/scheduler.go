package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/toques-bi/toques/pkg/logger"
	"github.com/toques-bi/toques/pkg/pipeline"
)

type Starter interface {
	Start(opts pipeline.Options) (string, error)
}

// Scheduler triggers pipeline runs on a cron schedule. A tick that lands while a run is
// still in flight is logged and dropped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	starter  Starter
	opts     pipeline.Options
	logger   logger.Logger
}

func New(cronExpr string, starter Starter, opts pipeline.Options, l logger.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schedule %q", cronExpr)
	}

	s := &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		starter:  starter,
		opts:     opts,
		logger:   l,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.Trigger))

	return s, nil
}

// Trigger starts a run immediately, the same way a scheduled tick does.
func (s *Scheduler) Trigger() {
	id, err := s.starter.Start(s.opts)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		s.logger.Warnw("scheduled run skipped, pipeline already running")
	case err != nil:
		s.logger.Errorw("scheduled run failed to start", "error", err)
	default:
		s.logger.Infow("scheduled run started", "run_id", id)
	}
}

// Run blocks until ctx is done, then stops the cron and waits for the tick in progress.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Next returns when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}
