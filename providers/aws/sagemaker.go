package aws

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"vision-trainer/core/models"
	"vision-trainer/pkg/logging"
)

const (
	maxTrainingJobName = 63
	maxTuningJobName   = 32
	volumeSizeGB       = 50
	maxRuntimeSeconds  = 24 * 60 * 60
)

// SageMakerAPI is the subset of the SageMaker client used for scheduling
type SageMakerAPI interface {
	CreateTrainingJob(ctx context.Context, in *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJob(ctx context.Context, in *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	CreateHyperParameterTuningJob(ctx context.Context, in *sagemaker.CreateHyperParameterTuningJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateHyperParameterTuningJobOutput, error)
	DescribeHyperParameterTuningJob(ctx context.Context, in *sagemaker.DescribeHyperParameterTuningJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeHyperParameterTuningJobOutput, error)
	DescribeExperiment(ctx context.Context, in *sagemaker.DescribeExperimentInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeExperimentOutput, error)
	CreateExperiment(ctx context.Context, in *sagemaker.CreateExperimentInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateExperimentOutput, error)
}

// SageMakerScheduler implements submission.Scheduler on SageMaker
type SageMakerScheduler struct {
	api        SageMakerAPI
	checker    *InstanceChecker
	roleARN    string
	experiment string
	log        *logging.Logger
}

// NewSageMakerScheduler creates a scheduler. checker may be nil to skip
// the instance pre-flight.
func NewSageMakerScheduler(api SageMakerAPI, checker *InstanceChecker, roleARN string, log *logging.Logger) *SageMakerScheduler {
	return &SageMakerScheduler{api: api, checker: checker, roleARN: roleARN, log: log}
}

// Provider implements submission.Scheduler
func (s *SageMakerScheduler) Provider() models.Provider {
	return models.ProviderAWS
}

// EnsureExperiment creates the experiment if it does not exist
func (s *SageMakerScheduler) EnsureExperiment(ctx context.Context, exp models.Experiment) error {
	name := JobName(exp.Name, maxTrainingJobName)
	s.experiment = name

	_, err := s.api.DescribeExperiment(ctx, &sagemaker.DescribeExperimentInput{ExperimentName: aws.String(name)})
	if err == nil {
		return nil
	}
	var nf *types.ResourceNotFound
	if !errors.As(err, &nf) {
		return err
	}

	s.log.Info("Creating experiment", "experiment", name)
	_, err = s.api.CreateExperiment(ctx, &sagemaker.CreateExperimentInput{
		ExperimentName: aws.String(name),
		DisplayName:    aws.String(exp.Name),
		Description:    aws.String(exp.Description),
	})
	return err
}

// SubmitCustomJob implements submission.Scheduler
func (s *SageMakerScheduler) SubmitCustomJob(ctx context.Context, spec models.JobSpec) (models.SubmittedJob, error) {
	if err := s.preflight(ctx, spec.Machine.MachineType); err != nil {
		return models.SubmittedJob{}, err
	}

	in := TrainingJobInput(spec, s.roleARN)
	if s.experiment != "" {
		in.ExperimentConfig = &types.ExperimentConfig{ExperimentName: aws.String(s.experiment)}
	}
	if _, err := s.api.CreateTrainingJob(ctx, in); err != nil {
		return models.SubmittedJob{}, err
	}

	name := aws.ToString(in.TrainingJobName)
	s.log.Info("Training job created", "job", name)
	return models.SubmittedJob{Name: name, Kind: models.JobKindCustom, Provider: models.ProviderAWS}, nil
}

// SubmitTuningJob implements submission.Scheduler
func (s *SageMakerScheduler) SubmitTuningJob(ctx context.Context, spec models.SweepSpec) (models.SubmittedJob, error) {
	if err := s.preflight(ctx, spec.Template.Machine.MachineType); err != nil {
		return models.SubmittedJob{}, err
	}

	in := TuningJobInput(spec, s.roleARN)
	if _, err := s.api.CreateHyperParameterTuningJob(ctx, in); err != nil {
		return models.SubmittedJob{}, err
	}

	name := aws.ToString(in.HyperParameterTuningJobName)
	s.log.Info("Tuning job created", "job", name)
	return models.SubmittedJob{Name: name, Kind: models.JobKindTuning, Provider: models.ProviderAWS}, nil
}

// JobState implements submission.Scheduler
func (s *SageMakerScheduler) JobState(ctx context.Context, job models.SubmittedJob) (models.JobState, error) {
	if job.Kind == models.JobKindTuning {
		out, err := s.api.DescribeHyperParameterTuningJob(ctx, &sagemaker.DescribeHyperParameterTuningJobInput{
			HyperParameterTuningJobName: aws.String(job.Name),
		})
		if err != nil {
			return "", err
		}
		return tuningState(out.HyperParameterTuningJobStatus), nil
	}

	out, err := s.api.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{TrainingJobName: aws.String(job.Name)})
	if err != nil {
		return "", err
	}
	if out.TrainingJobStatus == types.TrainingJobStatusFailed {
		s.log.Warn("Training job failed", "job", job.Name, "reason", aws.ToString(out.FailureReason))
	}
	return trainingState(out.TrainingJobStatus), nil
}

// BestTrial implements submission.Scheduler. SageMaker already ranks
// trials by the tuning objective, so goal is not consulted.
func (s *SageMakerScheduler) BestTrial(ctx context.Context, job models.SubmittedJob, _ models.SweepGoal) (*models.Trial, error) {
	out, err := s.api.DescribeHyperParameterTuningJob(ctx, &sagemaker.DescribeHyperParameterTuningJobInput{
		HyperParameterTuningJobName: aws.String(job.Name),
	})
	if err != nil {
		return nil, err
	}
	best := out.BestTrainingJob
	if best == nil || best.FinalHyperParameterTuningJobObjectiveMetric == nil {
		return nil, nil
	}

	params := make(map[string]float64, len(best.TunedHyperParameters))
	for k, v := range best.TunedHyperParameters {
		if f, err := strconv.ParseFloat(strings.Trim(v, `"`), 64); err == nil {
			params[k] = f
		}
	}
	metric := float64(aws.ToFloat32(best.FinalHyperParameterTuningJobObjectiveMetric.Value))
	return &models.Trial{
		ID:         aws.ToString(best.TrainingJobName),
		Parameters: params,
		Metric:     &metric,
		State:      trainingState(best.TrainingJobStatus),
	}, nil
}

func (s *SageMakerScheduler) preflight(ctx context.Context, instanceType string) error {
	if s.checker == nil {
		return nil
	}
	info, err := s.checker.CheckGPU(ctx, instanceType)
	if err != nil {
		return err
	}
	price, err := s.checker.HourlyPrice(ctx, instanceType)
	if err != nil {
		s.log.Warn("No price for instance type", "instance_type", instanceType, "error", err)
		price = 0
	}
	s.log.Info("Instance type checked",
		"instance_type", instanceType,
		"gpu", info.GPUType,
		"gpus", info.GPUs,
		"gpu_memory_mib", info.MemoryMiB,
		"usd_per_hour", price,
	)
	return nil
}

// TrainingJobInput maps a job spec to a SageMaker training job. Flag
// pairs become hyperparameters, which the container passes back as flags.
func TrainingJobInput(spec models.JobSpec, roleARN string) *sagemaker.CreateTrainingJobInput {
	return &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(JobName(spec.DisplayName, maxTrainingJobName)),
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingImage:     aws.String(spec.ImageURI),
			TrainingInputMode: types.TrainingInputModeFile,
		},
		RoleArn:           aws.String(roleARN),
		HyperParameters:   hyperParameters(spec),
		OutputDataConfig:  &types.OutputDataConfig{S3OutputPath: aws.String(spec.BaseOutputDir)},
		ResourceConfig:    resourceConfig(spec),
		StoppingCondition: &types.StoppingCondition{MaxRuntimeInSeconds: aws.Int32(maxRuntimeSeconds)},
		Environment:       map[string]string{"AIP_MODEL_DIR": spec.BaseOutputDir},
		Tags:              tags(spec.Labels),
	}
}

// TuningJobInput maps a sweep spec to a SageMaker tuning job. The objective
// is scraped from the worker's "Final metric" log line.
func TuningJobInput(spec models.SweepSpec, roleARN string) *sagemaker.CreateHyperParameterTuningJobInput {
	objective := types.HyperParameterTuningJobObjectiveTypeMaximize
	if spec.Goal == models.GoalMinimize {
		objective = types.HyperParameterTuningJobObjectiveTypeMinimize
	}
	scale := types.HyperParameterScalingTypeLogarithmic
	if spec.Scale == models.ScaleLinear {
		scale = types.HyperParameterScalingTypeLinear
	}

	t := spec.Template
	return &sagemaker.CreateHyperParameterTuningJobInput{
		HyperParameterTuningJobName: aws.String(JobName(t.DisplayName, maxTuningJobName)),
		HyperParameterTuningJobConfig: &types.HyperParameterTuningJobConfig{
			Strategy: types.HyperParameterTuningJobStrategyTypeBayesian,
			HyperParameterTuningJobObjective: &types.HyperParameterTuningJobObjective{
				Type:       objective,
				MetricName: aws.String(spec.Metric),
			},
			ResourceLimits: &types.ResourceLimits{
				MaxNumberOfTrainingJobs: aws.Int32(int32(spec.MaxTrials)),
				MaxParallelTrainingJobs: aws.Int32(int32(spec.ParallelTrials)),
			},
			ParameterRanges: &types.ParameterRanges{
				ContinuousParameterRanges: []types.ContinuousParameterRange{{
					Name:        aws.String(spec.Parameter),
					MinValue:    aws.String(strconv.FormatFloat(spec.Min, 'g', -1, 64)),
					MaxValue:    aws.String(strconv.FormatFloat(spec.Max, 'g', -1, 64)),
					ScalingType: scale,
				}},
			},
		},
		TrainingJobDefinition: &types.HyperParameterTrainingJobDefinition{
			AlgorithmSpecification: &types.HyperParameterAlgorithmSpecification{
				TrainingImage:     aws.String(t.ImageURI),
				TrainingInputMode: types.TrainingInputModeFile,
				MetricDefinitions: []types.MetricDefinition{{
					Name:  aws.String(spec.Metric),
					Regex: aws.String(MetricRegex(spec.Metric)),
				}},
			},
			RoleArn:               aws.String(roleARN),
			StaticHyperParameters: hyperParameters(t),
			OutputDataConfig:      &types.OutputDataConfig{S3OutputPath: aws.String(t.BaseOutputDir)},
			ResourceConfig:        resourceConfig(t),
			StoppingCondition:     &types.StoppingCondition{MaxRuntimeInSeconds: aws.Int32(maxRuntimeSeconds)},
			Environment:           map[string]string{"VT_TRIAL_OUTPUT_ROOT": t.BaseOutputDir},
		},
		Tags: tags(t.Labels),
	}
}

// MetricRegex matches the worker's final metric log line for tag
func MetricRegex(tag string) string {
	return `tag=` + regexp.QuoteMeta(tag) + ` value=([0-9.eE+-]+)`
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// JobName converts a display name to a SageMaker resource name of at most max characters
func JobName(display string, max int) string {
	name := invalidNameChars.ReplaceAllString(display, "-")
	name = strings.Trim(name, "-")
	if len(name) > max {
		name = strings.TrimRight(name[len(name)-max:], "-")
		name = strings.TrimLeft(name, "-")
	}
	return name
}

func hyperParameters(spec models.JobSpec) map[string]string {
	hp := map[string]string{
		"sagemaker_program":          strconv.Quote(strings.ReplaceAll(spec.Module, ".", "/") + ".py"),
		"sagemaker_submit_directory": strconv.Quote(firstOr(spec.PackageURIs, "")),
	}
	for i := 0; i+1 < len(spec.Args); i += 2 {
		hp[strings.TrimPrefix(spec.Args[i], "--")] = spec.Args[i+1]
	}
	return hp
}

func resourceConfig(spec models.JobSpec) *types.ResourceConfig {
	return &types.ResourceConfig{
		InstanceType:   types.TrainingInstanceType(spec.Machine.MachineType),
		InstanceCount:  aws.Int32(int32(spec.ReplicaCount)),
		VolumeSizeInGB: aws.Int32(volumeSizeGB),
	}
}

func tags(labels map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(labels))
	for k, v := range labels {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}

func trainingState(s types.TrainingJobStatus) models.JobState {
	switch s {
	case types.TrainingJobStatusInProgress, types.TrainingJobStatusStopping:
		return models.JobStateRunning
	case types.TrainingJobStatusCompleted:
		return models.JobStateSucceeded
	case types.TrainingJobStatusFailed:
		return models.JobStateFailed
	case types.TrainingJobStatusStopped:
		return models.JobStateCancelled
	default:
		return models.JobStatePending
	}
}

func tuningState(s types.HyperParameterTuningJobStatus) models.JobState {
	switch s {
	case types.HyperParameterTuningJobStatusInProgress, types.HyperParameterTuningJobStatusStopping:
		return models.JobStateRunning
	case types.HyperParameterTuningJobStatusCompleted:
		return models.JobStateSucceeded
	case types.HyperParameterTuningJobStatusFailed:
		return models.JobStateFailed
	case types.HyperParameterTuningJobStatusStopped:
		return models.JobStateCancelled
	default:
		return models.JobStatePending
	}
}
