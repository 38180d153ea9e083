package monitoring

import (
	"context"
	"fmt"
	"time"

	"vision-trainer/core/models"
	"vision-trainer/pkg/logging"
)

// StateSource reports the current state of a submitted job
type StateSource interface {
	JobState(ctx context.Context, job models.SubmittedJob) (models.JobState, error)
}

// JobMonitor polls a submitted job until it reaches a terminal state
type JobMonitor struct {
	source   StateSource
	interval time.Duration
	log      *logging.Logger
	onChange func(from, to models.JobState)
}

// NewJobMonitor creates a job monitor polling every interval
func NewJobMonitor(source StateSource, interval time.Duration, log *logging.Logger) *JobMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &JobMonitor{
		source:   source,
		interval: interval,
		log:      log,
	}
}

// OnStateChange registers a callback invoked on every observed transition
func (jm *JobMonitor) OnStateChange(fn func(from, to models.JobState)) {
	jm.onChange = fn
}

// Wait blocks until the job is terminal and returns its final state.
// Polling errors abort the wait; no retries are attempted.
func (jm *JobMonitor) Wait(ctx context.Context, job models.SubmittedJob) (models.JobState, error) {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	last := models.JobStatePending
	for {
		state, err := jm.source.JobState(ctx, job)
		if err != nil {
			return last, fmt.Errorf("poll job %s: %w", job.Name, err)
		}
		if state != last {
			jm.log.Info("Job state changed", "job", job.Name, "from", string(last), "to", string(state))
			if jm.onChange != nil {
				jm.onChange(last, state)
			}
			last = state
		}
		if state.IsTerminal() {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
