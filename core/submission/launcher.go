package submission

import (
	"context"
	"sync"
	"time"

	"vision-trainer/config"
	"vision-trainer/core/models"
	"vision-trainer/core/monitoring"
	"vision-trainer/core/spec"
	"vision-trainer/pkg/logging"
)

// SchedulerFactory builds the scheduler named by cfg and a function releasing it
type SchedulerFactory func(ctx context.Context, cfg *config.Config) (Scheduler, func(), error)

// Launcher starts runs from YAML run files in the background
type Launcher struct {
	ctx          context.Context
	base         *config.Config
	schedulerFor SchedulerFactory
	recorder     RunRecorder
	metrics      *monitoring.Metrics
	log          *logging.Logger
	pollInterval time.Duration
	now          func() time.Time
	wg           sync.WaitGroup
}

// NewLauncher creates a launcher. Background runs are bound to ctx.
func NewLauncher(
	ctx context.Context,
	base *config.Config,
	schedulerFor SchedulerFactory,
	recorder RunRecorder,
	metrics *monitoring.Metrics,
	log *logging.Logger,
	pollInterval time.Duration,
) *Launcher {
	return &Launcher{
		ctx:          ctx,
		base:         base,
		schedulerFor: schedulerFor,
		recorder:     recorder,
		metrics:      metrics,
		log:          log,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// WithClock replaces the clock run ids are derived from
func (l *Launcher) WithClock(now func() time.Time) *Launcher {
	l.now = now
	return l
}

// Launch validates specYAML, allocates a run and starts it. Configuration
// errors are returned before anything is submitted.
func (l *Launcher) Launch(specYAML string, kind models.JobKind) (models.Run, error) {
	cfg, err := spec.ParseRunSpec(specYAML, l.base)
	if err != nil {
		return models.Run{}, err
	}

	// Plan only reads cfg, so bad input never builds scheduler clients
	planner := NewController(cfg, nil, nil, nil, l.log, l.pollInterval)
	planner.now = l.now
	run, err := planner.Plan(kind)
	if err != nil {
		return models.Run{}, err
	}

	sched, release, err := l.schedulerFor(l.ctx, cfg)
	if err != nil {
		return models.Run{}, err
	}
	ctrl := NewController(cfg, sched, l.recorder, l.metrics, l.log, l.pollInterval).WithSpecYAML(specYAML)

	// Two launches in the same second share a run id; only the first is accepted
	if err := ctrl.Register(l.ctx, run, kind); err != nil {
		release()
		return models.Run{}, err
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer release()
		if _, err := ctrl.Dispatch(l.ctx, run, kind); err != nil {
			l.log.WithRunID(run.ID).Error("Run failed", "kind", string(kind), "error", err)
		}
	}()
	return run, nil
}

// Wait blocks until every launched run has returned
func (l *Launcher) Wait() {
	l.wg.Wait()
}
