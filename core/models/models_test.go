package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID_UsesUTC(t *testing.T) {
	loc := time.FixedZone("PDT", -7*3600)
	submitted := time.Date(2024, 3, 9, 17, 4, 5, 0, loc)

	assert.Equal(t, "20240310-000405", NewRunID(submitted))
}

func TestNewRun_Paths(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	run := NewRun("gs://visiondatabucket/models/", "rfdetr", now)

	assert.Equal(t, "20240102-030405", run.ID)
	assert.Equal(t, "gs://visiondatabucket/models/rfdetr/20240102-030405", run.BaseOutputDir)
	assert.Equal(t, "gs://visiondatabucket/models/rfdetr/20240102-030405/artifacts", run.ArtifactsDir())
	assert.Equal(t, "gs://visiondatabucket/models/rfdetr/20240102-030405/checkpoint_best_total.pth", run.BestCheckpointPath())
	assert.Equal(t, "rfdetr_train_20240102-030405", run.DisplayName(JobKindCustom))
	assert.Equal(t, "rfdetr_sweep_20240102-030405", run.DisplayName(JobKindTuning))
}

func TestJoinURI(t *testing.T) {
	assert.Equal(t, "gs://b/x/y", JoinURI("gs://b/", "/x/", "y"))
	assert.Equal(t, "gs://b", JoinURI("gs://b", ""))
	assert.Equal(t, "/job/output/a", JoinURI("/job/output", "a"))
	assert.Equal(t, "a/b", JoinURI("", "a", "b"))
}

func TestJobState_IsTerminal(t *testing.T) {
	assert.True(t, JobStateSucceeded.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
	assert.True(t, JobStateCancelled.IsTerminal())
	assert.False(t, JobStateRunning.IsTerminal())
	assert.False(t, JobStateQueued.IsTerminal())
}

func TestJobSpec_ArgValueAndWithoutArg(t *testing.T) {
	spec := JobSpec{
		Args:   []string{"--dataset_uri", "/gcs/b/datasets/d.zip", "--learning_rate", "4e-05", "--epochs", "15"},
		Labels: map[string]string{"experiment": "e1"},
	}

	v, ok := spec.ArgValue("--learning_rate")
	require.True(t, ok)
	assert.Equal(t, "4e-05", v)

	stripped := spec.WithoutArg("--learning_rate")
	assert.Equal(t, []string{"--dataset_uri", "/gcs/b/datasets/d.zip", "--epochs", "15"}, stripped.Args)
	_, ok = stripped.ArgValue("--learning_rate")
	assert.False(t, ok)

	stripped.Labels["experiment"] = "changed"
	assert.Equal(t, "e1", spec.Labels["experiment"], "original spec must not be mutated")
	assert.Len(t, spec.Args, 6)
}

func TestHistory_AppendKeepsArrivalOrder(t *testing.T) {
	var h History
	assert.Equal(t, 1, h.Append(EpochRecord{"epoch": 1, "val_mAP": 0.4}))
	assert.Equal(t, 2, h.Append(EpochRecord{"epoch": 2, "val_mAP": 0.5}))
	assert.Equal(t, 3, h.Append(EpochRecord{"epoch": 2, "val_mAP": 0.5}))

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 1, h.OutOfOrder())

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 0.5, last["val_mAP"])
}

func TestHistory_RecordsAreCopies(t *testing.T) {
	var h History
	rec := EpochRecord{"map": 0.1}
	h.Append(rec)
	rec["map"] = 0.9

	recs := h.Records()
	assert.Equal(t, 0.1, recs[0]["map"])

	_, ok := (&History{}).Last()
	assert.False(t, ok)
}

func TestArtifactTypeFor(t *testing.T) {
	assert.Equal(t, ArtifactTypeResults, ArtifactTypeFor("results.json"))
	assert.Equal(t, ArtifactTypeCheckpoint, ArtifactTypeFor("sub/checkpoint0009.pth"))
	assert.Equal(t, ArtifactTypeOutput, ArtifactTypeFor("log.txt"))
}
