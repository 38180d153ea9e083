package gcp

import (
	"testing"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"vision-trainer/core/models"
)

func testSpec() models.JobSpec {
	return models.JobSpec{
		DisplayName:   "rfdetr_train_20240102-030405",
		Machine:       models.MachineSpec{MachineType: "g2-standard-8", AcceleratorType: "NVIDIA_L4", AcceleratorCount: 1},
		ReplicaCount:  1,
		ImageURI:      "us-docker.pkg.dev/vertex-ai/training/pytorch-gpu.2-4.py310:latest",
		PackageURIs:   []string{"gs://stage/packages/trainer-0.1.tar.gz"},
		Module:        "trainer.train",
		Args:          []string{"--dataset_uri", "/gcs/stage/datasets/coco.zip", "--learning_rate", "4e-5"},
		BaseOutputDir: "gs://visiondatabucket/models/rfdetr/20240102-030405",
		Labels:        map[string]string{"experiment": "baseline"},
	}
}

func TestCustomJobFor(t *testing.T) {
	job := CustomJobFor(testSpec())

	assert.Equal(t, "rfdetr_train_20240102-030405", job.GetDisplayName())
	assert.Equal(t, "baseline", job.GetLabels()["experiment"])
	assert.Equal(t, "gs://visiondatabucket/models/rfdetr/20240102-030405", job.GetJobSpec().GetBaseOutputDirectory().GetOutputUriPrefix())

	pools := job.GetJobSpec().GetWorkerPoolSpecs()
	require.Len(t, pools, 1)
	assert.Equal(t, int64(1), pools[0].GetReplicaCount())
	assert.Equal(t, aiplatformpb.AcceleratorType_NVIDIA_L4, pools[0].GetMachineSpec().GetAcceleratorType())
	assert.Equal(t, int32(1), pools[0].GetMachineSpec().GetAcceleratorCount())

	pkg := pools[0].GetPythonPackageSpec()
	require.NotNil(t, pkg)
	assert.Equal(t, "trainer.train", pkg.GetPythonModule())
	assert.Equal(t, []string{"gs://stage/packages/trainer-0.1.tar.gz"}, pkg.GetPackageUris())
	assert.Equal(t, []string{"--dataset_uri", "/gcs/stage/datasets/coco.zip", "--learning_rate", "4e-5"}, pkg.GetArgs())
}

func TestTuningJobFor(t *testing.T) {
	spec := models.SweepSpec{
		Template:       testSpec().WithoutArg("--learning_rate"),
		Parameter:      "learning_rate",
		Min:            1e-5,
		Max:            1e-3,
		Scale:          models.ScaleLog,
		Metric:         "mean_average_precision",
		Goal:           models.GoalMaximize,
		MaxTrials:      10,
		ParallelTrials: 2,
	}
	job := TuningJobFor(spec)

	assert.Equal(t, int32(10), job.GetMaxTrialCount())
	assert.Equal(t, int32(2), job.GetParallelTrialCount())

	metric := job.GetStudySpec().GetMetrics()[0]
	assert.Equal(t, "mean_average_precision", metric.GetMetricId())
	assert.Equal(t, aiplatformpb.StudySpec_MetricSpec_MAXIMIZE, metric.GetGoal())

	param := job.GetStudySpec().GetParameters()[0]
	assert.Equal(t, "learning_rate", param.GetParameterId())
	assert.Equal(t, aiplatformpb.StudySpec_ParameterSpec_UNIT_LOG_SCALE, param.GetScaleType())
	assert.Equal(t, 1e-5, param.GetDoubleValueSpec().GetMinValue())
	assert.Equal(t, 1e-3, param.GetDoubleValueSpec().GetMaxValue())

	args := job.GetTrialJobSpec().GetWorkerPoolSpecs()[0].GetPythonPackageSpec().GetArgs()
	assert.NotContains(t, args, "--learning_rate")
}

func TestStateFrom(t *testing.T) {
	tests := map[aiplatformpb.JobState]models.JobState{
		aiplatformpb.JobState_JOB_STATE_QUEUED:      models.JobStateQueued,
		aiplatformpb.JobState_JOB_STATE_PENDING:     models.JobStateQueued,
		aiplatformpb.JobState_JOB_STATE_RUNNING:     models.JobStateRunning,
		aiplatformpb.JobState_JOB_STATE_SUCCEEDED:   models.JobStateSucceeded,
		aiplatformpb.JobState_JOB_STATE_FAILED:      models.JobStateFailed,
		aiplatformpb.JobState_JOB_STATE_CANCELLED:   models.JobStateCancelled,
		aiplatformpb.JobState_JOB_STATE_UNSPECIFIED: models.JobStatePending,
	}
	for in, want := range tests {
		assert.Equal(t, want, StateFrom(in), in.String())
	}
}

func trial(id string, state aiplatformpb.Trial_State, lr, metric float64) *aiplatformpb.Trial {
	return &aiplatformpb.Trial{
		Id:    id,
		State: state,
		Parameters: []*aiplatformpb.Trial_Parameter{
			{ParameterId: "learning_rate", Value: structpb.NewNumberValue(lr)},
		},
		FinalMeasurement: &aiplatformpb.Measurement{
			Metrics: []*aiplatformpb.Measurement_Metric{{MetricId: "mean_average_precision", Value: metric}},
		},
	}
}

func TestBestTrialOf(t *testing.T) {
	trials := []*aiplatformpb.Trial{
		trial("1", aiplatformpb.Trial_SUCCEEDED, 1e-5, 0.40),
		trial("2", aiplatformpb.Trial_SUCCEEDED, 1e-4, 0.58),
		trial("3", aiplatformpb.Trial_INFEASIBLE, 1e-3, 0.99),
		trial("4", aiplatformpb.Trial_SUCCEEDED, 5e-4, 0.51),
	}

	best := BestTrialOf(trials, models.GoalMaximize)
	require.NotNil(t, best)
	assert.Equal(t, "2", best.ID)
	assert.Equal(t, 0.58, *best.Metric)
	assert.Equal(t, 1e-4, best.Parameters["learning_rate"])

	worst := BestTrialOf(trials, models.GoalMinimize)
	require.NotNil(t, worst)
	assert.Equal(t, "1", worst.ID)

	assert.Nil(t, BestTrialOf(nil, models.GoalMaximize))
}
