package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vision-trainer/config"
	"vision-trainer/core/models"
	"vision-trainer/core/monitoring"
	"vision-trainer/pkg/logging"
)

// SubmissionResult describes a finished submission
type SubmissionResult struct {
	Run       models.Run
	Kind      models.JobKind
	Job       models.SubmittedJob
	State     models.JobState
	OutputDir string
	BestTrial *models.Trial
}

// Controller submits runs and sweeps and waits for them to finish
type Controller struct {
	cfg          *config.Config
	scheduler    Scheduler
	recorder     RunRecorder
	metrics      *monitoring.Metrics
	log          *logging.Logger
	pollInterval time.Duration
	specYAML     string
	now          func() time.Time
}

// NewController creates a controller. recorder and metrics may be nil.
func NewController(
	cfg *config.Config,
	scheduler Scheduler,
	recorder RunRecorder,
	metrics *monitoring.Metrics,
	log *logging.Logger,
	pollInterval time.Duration,
) *Controller {
	return &Controller{
		cfg:          cfg,
		scheduler:    scheduler,
		recorder:     recorder,
		metrics:      metrics,
		log:          log,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// WithSpecYAML stores the run file the configuration was built from in the ledger
func (c *Controller) WithSpecYAML(specYAML string) *Controller {
	cp := *c
	cp.specYAML = specYAML
	return &cp
}

// Plan validates the configuration for kind and allocates a run. Nothing
// remote is touched.
func (c *Controller) Plan(kind models.JobKind) (models.Run, error) {
	if err := c.cfg.ValidateSubmission(); err != nil {
		return models.Run{}, err
	}
	if kind == models.JobKindTuning {
		if err := c.cfg.ValidateSweep(); err != nil {
			return models.Run{}, err
		}
	}
	return models.NewRun(c.cfg.FinalRoot(), c.cfg.ModelFamily, c.now()), nil
}

// SubmitRun submits a single training job and blocks until it is terminal
func (c *Controller) SubmitRun(ctx context.Context) (*SubmissionResult, error) {
	run, err := c.Plan(models.JobKindCustom)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, run, models.JobKindCustom)
}

// SubmitSweep submits a hyperparameter sweep and blocks until it is terminal
func (c *Controller) SubmitSweep(ctx context.Context) (*SubmissionResult, error) {
	run, err := c.Plan(models.JobKindTuning)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, run, models.JobKindTuning)
}

// Execute registers a planned run, submits it and waits for it. A terminal
// state other than succeeded is returned as an error together with the result.
func (c *Controller) Execute(ctx context.Context, run models.Run, kind models.JobKind) (*SubmissionResult, error) {
	if err := c.Register(ctx, run, kind); err != nil {
		return &SubmissionResult{Run: run, Kind: kind, State: models.JobStatePending, OutputDir: run.BaseOutputDir}, err
	}
	return c.Dispatch(ctx, run, kind)
}

// Register records a planned run in the ledger. A run id that is already
// recorded returns models.ErrRunExists; other ledger failures are logged
// and do not stop the run.
func (c *Controller) Register(ctx context.Context, run models.Run, kind models.JobKind) error {
	if c.recorder == nil {
		return nil
	}
	err := c.recorder.CreateRun(ctx, &models.RunRecord{
		RunID:         run.ID,
		Kind:          kind,
		Provider:      c.scheduler.Provider(),
		Experiment:    c.cfg.Experiment.Name,
		DisplayName:   run.DisplayName(kind),
		BaseOutputDir: run.BaseOutputDir,
		SpecYAML:      c.specYAML,
	})
	if errors.Is(err, models.ErrRunExists) {
		return err
	}
	if err != nil {
		c.log.WithRunID(run.ID).Warn("Failed to record run", "error", err)
	}
	return nil
}

// Dispatch submits a registered run and waits for it
func (c *Controller) Dispatch(ctx context.Context, run models.Run, kind models.JobKind) (*SubmissionResult, error) {
	log := c.log.WithRunID(run.ID)
	result := &SubmissionResult{Run: run, Kind: kind, State: models.JobStatePending, OutputDir: run.BaseOutputDir}
	displayName := run.DisplayName(kind)

	if c.cfg.Experiment.Name != "" {
		exp := models.Experiment{Name: c.cfg.Experiment.Name, Description: c.cfg.Experiment.Description}
		if err := c.scheduler.EnsureExperiment(ctx, exp); err != nil {
			c.transition(ctx, log, run.ID, result, models.JobStateFailed, "experiment_failed", nil)
			return result, fmt.Errorf("ensure experiment %q: %w", exp.Name, err)
		}
	}

	log.Info("Submitting job", "display_name", displayName, "kind", string(kind), "output", run.BaseOutputDir)
	job, err := c.submit(ctx, run, kind)
	if err != nil {
		c.transition(ctx, log, run.ID, result, models.JobStateFailed, "submit_failed", map[string]interface{}{"error": err.Error()})
		return result, fmt.Errorf("submit %s: %w", displayName, err)
	}
	result.Job = job
	log = log.WithJob(job.Name)
	c.metrics.RunSubmitted(string(kind), string(job.Provider))

	if c.recorder != nil {
		if err := c.recorder.SetJobName(ctx, run.ID, job.Name); err != nil {
			log.Warn("Failed to record job name", "error", err)
		}
	}
	c.transition(ctx, log, run.ID, result, models.JobStateQueued, "job_submitted", map[string]interface{}{"job": job.Name})

	monitor := monitoring.NewJobMonitor(c.scheduler, c.pollInterval, log)
	monitor.OnStateChange(func(_, to models.JobState) {
		c.transition(ctx, log, run.ID, result, to, "job_"+string(to), nil)
	})

	submitted := c.now()
	state, err := monitor.Wait(ctx, job)
	if err != nil {
		return result, err
	}
	c.metrics.RunFinished(string(kind), string(state), c.now().Sub(submitted).Seconds())

	if kind == models.JobKindTuning && state == models.JobStateSucceeded {
		c.collectBestTrial(ctx, log, run.ID, job, result)
	}

	if state != models.JobStateSucceeded {
		return result, fmt.Errorf("job %s finished in state %s", job.Name, state)
	}
	log.Info("Job finished", "state", string(state), "artifacts", run.BaseOutputDir)
	return result, nil
}

func (c *Controller) submit(ctx context.Context, run models.Run, kind models.JobKind) (models.SubmittedJob, error) {
	if kind == models.JobKindTuning {
		return c.scheduler.SubmitTuningJob(ctx, BuildSweepSpec(c.cfg, run))
	}
	return c.scheduler.SubmitCustomJob(ctx, BuildJobSpec(c.cfg, run))
}

func (c *Controller) collectBestTrial(
	ctx context.Context,
	log *logging.Logger,
	runID string,
	job models.SubmittedJob,
	result *SubmissionResult,
) {
	trial, err := c.scheduler.BestTrial(ctx, job, models.SweepGoal(c.cfg.Sweep.Goal))
	if err != nil {
		log.Warn("Failed to fetch best trial", "error", err)
		return
	}
	if trial == nil || trial.Metric == nil {
		return
	}
	result.BestTrial = trial
	log.Info("Best trial", "trial", trial.ID, "metric", *trial.Metric, "parameters", trial.Parameters)
	c.metrics.SetFinalMetric(*trial.Metric)
	if c.recorder != nil {
		if err := c.recorder.SetFinalMetric(ctx, runID, *trial.Metric); err != nil {
			log.Warn("Failed to record final metric", "error", err)
		}
	}
}

// transition moves result to state and records it. Repeated states are ignored.
func (c *Controller) transition(
	ctx context.Context,
	log *logging.Logger,
	runID string,
	result *SubmissionResult,
	to models.JobState,
	reason string,
	meta map[string]interface{},
) {
	from := result.State
	if from == to {
		return
	}
	result.State = to
	if c.recorder == nil {
		return
	}
	if err := c.recorder.UpdateRunState(ctx, runID, from, to, reason, meta); err != nil {
		log.Warn("Failed to record state change", "from", string(from), "to", string(to), "error", err)
	}
}
