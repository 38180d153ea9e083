// Package local runs training jobs on the submitting machine. Jobs run
// to completion inside Submit, so the first JobState call already sees a
// terminal state.
package local

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"vision-trainer/core/metrics"
	"vision-trainer/core/models"
	"vision-trainer/core/submission"
	"vision-trainer/pkg/logging"
)

// JobFunc runs one job to completion. It returns the reported objective,
// or nil when the job reported none.
type JobFunc func(ctx context.Context, spec models.JobSpec) (*float64, error)

type job struct {
	state  models.JobState
	trials []models.Trial
}

// Scheduler implements submission.Scheduler in-process
type Scheduler struct {
	run JobFunc
	log *logging.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewScheduler creates a scheduler executing jobs with run
func NewScheduler(run JobFunc, log *logging.Logger) *Scheduler {
	return &Scheduler{run: run, log: log, jobs: make(map[string]*job)}
}

// Provider implements submission.Scheduler
func (s *Scheduler) Provider() models.Provider {
	return models.ProviderLocal
}

// EnsureExperiment implements submission.Scheduler. Local runs are only
// labelled, so there is nothing to create.
func (s *Scheduler) EnsureExperiment(_ context.Context, exp models.Experiment) error {
	s.log.Debug("Local experiment", "experiment", exp.Name)
	return nil
}

// SubmitCustomJob runs spec and returns once it has finished
func (s *Scheduler) SubmitCustomJob(ctx context.Context, spec models.JobSpec) (models.SubmittedJob, error) {
	name := "local/customJobs/" + uuid.NewString()
	s.log.Info("Running local job", "job", name, "display_name", spec.DisplayName)

	metric, err := s.run(ctx, spec)
	state := models.JobStateSucceeded
	if err != nil {
		s.log.Error("Local job failed", "job", name, "error", err)
		state = models.JobStateFailed
	}

	s.store(name, &job{state: state, trials: []models.Trial{{ID: "1", Metric: metric, State: state}}})
	return models.SubmittedJob{Name: name, Kind: models.JobKindCustom, Provider: models.ProviderLocal}, nil
}

// SubmitTuningJob runs MaxTrials trials, ParallelTrials at a time, with the
// swept parameter spread evenly across its range on the chosen scale.
// The sweep fails only if every trial fails.
func (s *Scheduler) SubmitTuningJob(ctx context.Context, spec models.SweepSpec) (models.SubmittedJob, error) {
	name := "local/hyperparameterTuningJobs/" + uuid.NewString()
	values := SampleValues(spec)
	s.log.Info("Running local sweep", "job", name, "trials", len(values), "parallel", spec.ParallelTrials)

	trials := make([]models.Trial, len(values))
	sem := make(chan struct{}, max(spec.ParallelTrials, 1))
	var wg sync.WaitGroup
	for i, v := range values {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v float64) {
			defer wg.Done()
			defer func() { <-sem }()

			id := strconv.Itoa(i + 1)
			metric, err := s.run(ctx, TrialSpec(spec, id, v))
			state := models.JobStateSucceeded
			if err != nil {
				s.log.Warn("Trial failed", "job", name, "trial", id, "error", err)
				state = models.JobStateFailed
			}
			trials[i] = models.Trial{
				ID:         id,
				Parameters: map[string]float64{spec.Parameter: v},
				Metric:     metric,
				State:      state,
			}
		}(i, v)
	}
	wg.Wait()

	state := models.JobStateFailed
	for _, t := range trials {
		if t.State == models.JobStateSucceeded {
			state = models.JobStateSucceeded
			break
		}
	}
	s.store(name, &job{state: state, trials: trials})
	return models.SubmittedJob{Name: name, Kind: models.JobKindTuning, Provider: models.ProviderLocal}, nil
}

// JobState implements submission.Scheduler
func (s *Scheduler) JobState(_ context.Context, sj models.SubmittedJob) (models.JobState, error) {
	j, err := s.lookup(sj.Name)
	if err != nil {
		return "", err
	}
	return j.state, nil
}

// BestTrial implements submission.Scheduler
func (s *Scheduler) BestTrial(_ context.Context, sj models.SubmittedJob, goal models.SweepGoal) (*models.Trial, error) {
	j, err := s.lookup(sj.Name)
	if err != nil {
		return nil, err
	}

	var best *models.Trial
	for i := range j.trials {
		t := j.trials[i]
		if t.State != models.JobStateSucceeded || t.Metric == nil {
			continue
		}
		if best == nil || goal.Better(*t.Metric, *best.Metric) {
			best = &t
		}
	}
	return best, nil
}

func (s *Scheduler) store(name string, j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = j
}

func (s *Scheduler) lookup(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("unknown local job %s", name)
	}
	return j, nil
}

// SampleValues spreads MaxTrials values of the swept parameter over
// [Min, Max], geometrically for the log scale. A single trial takes the
// midpoint.
func SampleValues(spec models.SweepSpec) []float64 {
	n := spec.MaxTrials
	if n <= 0 {
		return nil
	}

	lo, hi := spec.Min, spec.Max
	if spec.Scale == models.ScaleLog {
		lo, hi = math.Log(lo), math.Log(hi)
	}

	out := make([]float64, n)
	for i := range out {
		frac := 0.5
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		v := lo + (hi-lo)*frac
		if spec.Scale == models.ScaleLog {
			v = math.Exp(v)
		}
		out[i] = v
	}
	if n > 1 {
		out[0], out[n-1] = spec.Min, spec.Max
	}
	return out
}

// TrialSpec is the template with the swept parameter set to value and
// the durable output moved under <base>/<trial>
func TrialSpec(spec models.SweepSpec, trialID string, value float64) models.JobSpec {
	t := spec.Template.WithoutArg("--gcs_output_dir")
	t.DisplayName = spec.Template.DisplayName + "_trial_" + trialID
	t.BaseOutputDir = models.JoinURI(spec.Template.BaseOutputDir, trialID)
	t.Args = append(t.Args,
		"--"+spec.Parameter, submission.FormatFloat(value),
		"--gcs_output_dir", t.BaseOutputDir,
	)
	return t
}

// ExecJob runs the worker binary with the job's arguments. The worker
// reports its objective through the hypertune metrics file, which is
// redirected to a scratch directory and read back after exit. VT_RUN_ID
// lets a worker sharing the ledger record its artifacts.
func ExecJob(binary, metricTag string, log *logging.Logger) JobFunc {
	return func(ctx context.Context, spec models.JobSpec) (*float64, error) {
		scratch, err := os.MkdirTemp("", "local-job-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(scratch)

		metricFile := filepath.Join(scratch, "output.metrics")
		cmd := exec.CommandContext(ctx, binary, spec.Args...)
		cmd.Env = append(os.Environ(),
			"AIP_MODEL_DIR="+spec.BaseOutputDir,
			"CLOUD_ML_HP_METRIC_FILE="+metricFile,
			"CLOUD_ML_TRIAL_ID="+spec.DisplayName,
			"VT_RUN_ID="+spec.Labels["run_id"],
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		log.Info("Starting worker", "binary", binary, "display_name", spec.DisplayName)
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("worker %s: %w", spec.DisplayName, err)
		}
		return metrics.LastReported(metricFile, metricTag)
	}
}

var _ submission.Scheduler = (*Scheduler)(nil)
