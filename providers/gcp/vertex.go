// Package gcp submits training jobs and sweeps to Vertex AI
package gcp

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vision-trainer/core/models"
	"vision-trainer/core/submission"
	"vision-trainer/pkg/logging"
)

const experimentSchema = "system.Experiment"

// VertexScheduler implements submission.Scheduler on Vertex AI
type VertexScheduler struct {
	jobs     *aiplatform.JobClient
	metadata *aiplatform.MetadataClient
	project  string
	location string
	log      *logging.Logger
}

// NewVertexScheduler connects to the regional Vertex AI endpoint
func NewVertexScheduler(ctx context.Context, project, location string, log *logging.Logger) (*VertexScheduler, error) {
	endpoint := option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", location))

	jobs, err := aiplatform.NewJobClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create job client: %w", err)
	}
	metadata, err := aiplatform.NewMetadataClient(ctx, endpoint)
	if err != nil {
		jobs.Close()
		return nil, fmt.Errorf("create metadata client: %w", err)
	}

	return &VertexScheduler{
		jobs:     jobs,
		metadata: metadata,
		project:  project,
		location: location,
		log:      log,
	}, nil
}

// Close releases the API connections
func (s *VertexScheduler) Close() error {
	err := s.jobs.Close()
	if merr := s.metadata.Close(); err == nil {
		err = merr
	}
	return err
}

// Provider implements submission.Scheduler
func (s *VertexScheduler) Provider() models.Provider {
	return models.ProviderGCP
}

func (s *VertexScheduler) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", s.project, s.location)
}

// EnsureExperiment creates the experiment context in the default metadata store
func (s *VertexScheduler) EnsureExperiment(ctx context.Context, exp models.Experiment) error {
	store := s.parent() + "/metadataStores/default"
	id := submission.LabelValue(exp.Name)

	_, err := s.metadata.GetContext(ctx, &aiplatformpb.GetContextRequest{Name: store + "/contexts/" + id})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return err
	}

	s.log.Info("Creating experiment", "experiment", id)
	_, err = s.metadata.CreateContext(ctx, &aiplatformpb.CreateContextRequest{
		Parent:    store,
		ContextId: id,
		Context: &aiplatformpb.Context{
			DisplayName: exp.Name,
			SchemaTitle: experimentSchema,
			Description: exp.Description,
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// SubmitCustomJob implements submission.Scheduler
func (s *VertexScheduler) SubmitCustomJob(ctx context.Context, spec models.JobSpec) (models.SubmittedJob, error) {
	job, err := s.jobs.CreateCustomJob(ctx, &aiplatformpb.CreateCustomJobRequest{
		Parent:    s.parent(),
		CustomJob: CustomJobFor(spec),
	})
	if err != nil {
		return models.SubmittedJob{}, err
	}
	s.log.Info("Custom job created", "job", job.GetName(), "display_name", spec.DisplayName)
	return models.SubmittedJob{Name: job.GetName(), Kind: models.JobKindCustom, Provider: models.ProviderGCP}, nil
}

// SubmitTuningJob implements submission.Scheduler
func (s *VertexScheduler) SubmitTuningJob(ctx context.Context, spec models.SweepSpec) (models.SubmittedJob, error) {
	job, err := s.jobs.CreateHyperparameterTuningJob(ctx, &aiplatformpb.CreateHyperparameterTuningJobRequest{
		Parent:                  s.parent(),
		HyperparameterTuningJob: TuningJobFor(spec),
	})
	if err != nil {
		return models.SubmittedJob{}, err
	}
	s.log.Info("Tuning job created", "job", job.GetName(), "display_name", spec.Template.DisplayName)
	return models.SubmittedJob{Name: job.GetName(), Kind: models.JobKindTuning, Provider: models.ProviderGCP}, nil
}

// JobState implements submission.Scheduler
func (s *VertexScheduler) JobState(ctx context.Context, job models.SubmittedJob) (models.JobState, error) {
	if job.Kind == models.JobKindTuning {
		hp, err := s.jobs.GetHyperparameterTuningJob(ctx, &aiplatformpb.GetHyperparameterTuningJobRequest{Name: job.Name})
		if err != nil {
			return "", err
		}
		return StateFrom(hp.GetState()), nil
	}
	cj, err := s.jobs.GetCustomJob(ctx, &aiplatformpb.GetCustomJobRequest{Name: job.Name})
	if err != nil {
		return "", err
	}
	return StateFrom(cj.GetState()), nil
}

// BestTrial implements submission.Scheduler
func (s *VertexScheduler) BestTrial(ctx context.Context, job models.SubmittedJob, goal models.SweepGoal) (*models.Trial, error) {
	hp, err := s.jobs.GetHyperparameterTuningJob(ctx, &aiplatformpb.GetHyperparameterTuningJobRequest{Name: job.Name})
	if err != nil {
		return nil, err
	}
	return BestTrialOf(hp.GetTrials(), goal), nil
}

// CustomJobFor maps a job spec to a Vertex custom job
func CustomJobFor(spec models.JobSpec) *aiplatformpb.CustomJob {
	return &aiplatformpb.CustomJob{
		DisplayName: spec.DisplayName,
		JobSpec:     jobSpecFor(spec),
		Labels:      spec.Labels,
	}
}

func jobSpecFor(spec models.JobSpec) *aiplatformpb.CustomJobSpec {
	machine := &aiplatformpb.MachineSpec{MachineType: spec.Machine.MachineType}
	if spec.Machine.AcceleratorType != "" {
		machine.AcceleratorType = aiplatformpb.AcceleratorType(aiplatformpb.AcceleratorType_value[spec.Machine.AcceleratorType])
		machine.AcceleratorCount = int32(spec.Machine.AcceleratorCount)
	}

	return &aiplatformpb.CustomJobSpec{
		WorkerPoolSpecs: []*aiplatformpb.WorkerPoolSpec{{
			Task: &aiplatformpb.WorkerPoolSpec_PythonPackageSpec{
				PythonPackageSpec: &aiplatformpb.PythonPackageSpec{
					ExecutorImageUri: spec.ImageURI,
					PackageUris:      spec.PackageURIs,
					PythonModule:     spec.Module,
					Args:             spec.Args,
				},
			},
			MachineSpec:  machine,
			ReplicaCount: int64(spec.ReplicaCount),
		}},
		BaseOutputDirectory: &aiplatformpb.GcsDestination{OutputUriPrefix: spec.BaseOutputDir},
	}
}

// TuningJobFor maps a sweep spec to a Vertex hyperparameter tuning job
func TuningJobFor(spec models.SweepSpec) *aiplatformpb.HyperparameterTuningJob {
	goal := aiplatformpb.StudySpec_MetricSpec_MAXIMIZE
	if spec.Goal == models.GoalMinimize {
		goal = aiplatformpb.StudySpec_MetricSpec_MINIMIZE
	}
	scale := aiplatformpb.StudySpec_ParameterSpec_UNIT_LOG_SCALE
	if spec.Scale == models.ScaleLinear {
		scale = aiplatformpb.StudySpec_ParameterSpec_UNIT_LINEAR_SCALE
	}

	return &aiplatformpb.HyperparameterTuningJob{
		DisplayName: spec.Template.DisplayName,
		StudySpec: &aiplatformpb.StudySpec{
			Metrics: []*aiplatformpb.StudySpec_MetricSpec{{MetricId: spec.Metric, Goal: goal}},
			Parameters: []*aiplatformpb.StudySpec_ParameterSpec{{
				ParameterId: spec.Parameter,
				ParameterValueSpec: &aiplatformpb.StudySpec_ParameterSpec_DoubleValueSpec_{
					DoubleValueSpec: &aiplatformpb.StudySpec_ParameterSpec_DoubleValueSpec{
						MinValue: spec.Min,
						MaxValue: spec.Max,
					},
				},
				ScaleType: scale,
			}},
		},
		MaxTrialCount:      int32(spec.MaxTrials),
		ParallelTrialCount: int32(spec.ParallelTrials),
		TrialJobSpec:       jobSpecFor(spec.Template),
		Labels:             spec.Template.Labels,
	}
}

// StateFrom maps a Vertex job state
func StateFrom(s aiplatformpb.JobState) models.JobState {
	switch s {
	case aiplatformpb.JobState_JOB_STATE_QUEUED, aiplatformpb.JobState_JOB_STATE_PENDING:
		return models.JobStateQueued
	case aiplatformpb.JobState_JOB_STATE_RUNNING, aiplatformpb.JobState_JOB_STATE_UPDATING,
		aiplatformpb.JobState_JOB_STATE_PAUSED, aiplatformpb.JobState_JOB_STATE_CANCELLING:
		return models.JobStateRunning
	case aiplatformpb.JobState_JOB_STATE_SUCCEEDED, aiplatformpb.JobState_JOB_STATE_PARTIALLY_SUCCEEDED:
		return models.JobStateSucceeded
	case aiplatformpb.JobState_JOB_STATE_FAILED, aiplatformpb.JobState_JOB_STATE_EXPIRED:
		return models.JobStateFailed
	case aiplatformpb.JobState_JOB_STATE_CANCELLED:
		return models.JobStateCancelled
	default:
		return models.JobStatePending
	}
}

// BestTrialOf picks the succeeded trial with the best final measurement
func BestTrialOf(trials []*aiplatformpb.Trial, goal models.SweepGoal) *models.Trial {
	var best *models.Trial
	for _, t := range trials {
		if t.GetState() != aiplatformpb.Trial_SUCCEEDED {
			continue
		}
		metrics := t.GetFinalMeasurement().GetMetrics()
		if len(metrics) == 0 {
			continue
		}
		v := metrics[0].GetValue()
		if best != nil && !goal.Better(v, *best.Metric) {
			continue
		}

		params := make(map[string]float64, len(t.GetParameters()))
		for _, p := range t.GetParameters() {
			params[p.GetParameterId()] = p.GetValue().GetNumberValue()
		}
		best = &models.Trial{ID: t.GetId(), Parameters: params, Metric: &v, State: models.JobStateSucceeded}
	}
	return best
}
