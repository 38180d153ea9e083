package models

import "time"

// Provider is the external job-scheduling service a run is submitted to
type Provider string

const (
	ProviderGCP   Provider = "gcp"
	ProviderAWS   Provider = "aws"
	ProviderLocal Provider = "local"
)

// JobKind distinguishes single runs from hyperparameter sweeps
type JobKind string

const (
	JobKindCustom JobKind = "custom"
	JobKindTuning JobKind = "tuning"
)

// JobState is the scheduler-reported state of a remote job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether the job will not change state again
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// MachineSpec describes the worker machine
type MachineSpec struct {
	MachineType      string
	AcceleratorType  string
	AcceleratorCount int
}

// JobSpec is the full description of one remote training job.
// It is built once per run and passed by value.
type JobSpec struct {
	DisplayName   string
	Machine       MachineSpec
	ReplicaCount  int
	ImageURI      string
	PackageURIs   []string
	Module        string
	Args          []string
	BaseOutputDir string
	Labels        map[string]string
}

// ArgValue returns the value following flag in Args
func (s JobSpec) ArgValue(flag string) (string, bool) {
	for i := 0; i+1 < len(s.Args); i++ {
		if s.Args[i] == flag {
			return s.Args[i+1], true
		}
	}
	return "", false
}

// WithoutArg returns a copy of the spec with flag and its value removed
func (s JobSpec) WithoutArg(flag string) JobSpec {
	args := make([]string, 0, len(s.Args))
	for i := 0; i < len(s.Args); i++ {
		if s.Args[i] == flag && i+1 < len(s.Args) {
			i++
			continue
		}
		args = append(args, s.Args[i])
	}
	out := s
	out.Args = args
	out.PackageURIs = append([]string(nil), s.PackageURIs...)
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	return out
}

// ParameterScale is the sampling scale of a swept parameter
type ParameterScale string

const (
	ScaleLog    ParameterScale = "log"
	ScaleLinear ParameterScale = "linear"
)

// SweepGoal is the optimization direction of the sweep objective
type SweepGoal string

const (
	GoalMaximize SweepGoal = "maximize"
	GoalMinimize SweepGoal = "minimize"
)

// Better reports whether v improves on current under the goal
func (g SweepGoal) Better(v, current float64) bool {
	if g == GoalMinimize {
		return v < current
	}
	return v > current
}

// SweepSpec is a template job plus a search space and objective
type SweepSpec struct {
	Template       JobSpec
	Parameter      string
	Min            float64
	Max            float64
	Scale          ParameterScale
	Metric         string
	Goal           SweepGoal
	MaxTrials      int
	ParallelTrials int
}

// Experiment labels jobs for traceability
type Experiment struct {
	Name        string
	Description string
}

// SubmittedJob is a handle to a job accepted by the scheduler
type SubmittedJob struct {
	Name     string // provider resource name
	Kind     JobKind
	Provider Provider
}

// Trial is one completed sweep trial as reported by the scheduler
type Trial struct {
	ID         string
	Parameters map[string]float64
	Metric     *float64
	State      JobState
}

// RunRecord is the ledger entry for a submitted run
type RunRecord struct {
	ID            string
	RunID         string
	Kind          JobKind
	Provider      Provider
	Experiment    string
	DisplayName   string
	JobName       string
	State         JobState
	BaseOutputDir string
	SpecYAML      string
	FinalMetric   *float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}
