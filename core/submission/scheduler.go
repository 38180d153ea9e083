// Package submission builds job specifications from configuration and
// submits them to the external job scheduler, waiting for completion.
package submission

import (
	"context"

	"vision-trainer/core/models"
)

// Scheduler is the external job-scheduling service
type Scheduler interface {
	// Provider names the service, for the run ledger and metrics
	Provider() models.Provider
	// EnsureExperiment creates the experiment context if it does not exist
	EnsureExperiment(ctx context.Context, exp models.Experiment) error
	// SubmitCustomJob submits a single training job and returns immediately
	SubmitCustomJob(ctx context.Context, spec models.JobSpec) (models.SubmittedJob, error)
	// SubmitTuningJob submits a hyperparameter sweep and returns immediately
	SubmitTuningJob(ctx context.Context, spec models.SweepSpec) (models.SubmittedJob, error)
	// JobState reports the current state of a submitted job
	JobState(ctx context.Context, job models.SubmittedJob) (models.JobState, error)
	// BestTrial returns the best finished trial of a sweep, or nil if the
	// scheduler has none to report
	BestTrial(ctx context.Context, job models.SubmittedJob, goal models.SweepGoal) (*models.Trial, error)
}

// RunRecorder persists the lifecycle of submitted runs
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.RunRecord) error
	UpdateRunState(ctx context.Context, runID string, from, to models.JobState, reason string, meta map[string]interface{}) error
	SetJobName(ctx context.Context, runID, jobName string) error
	SetFinalMetric(ctx context.Context, runID string, value float64) error
}
