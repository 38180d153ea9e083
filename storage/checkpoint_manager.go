package storage

import (
	"context"
	"fmt"

	"vision-trainer/core/models"
	"vision-trainer/core/repository"
)

// CheckpointManager records published artifacts in the run ledger and
// answers checkpoint lookups for a run
type CheckpointManager struct {
	artifactRepo *repository.ArtifactRepository
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(artifactRepo *repository.ArtifactRepository) *CheckpointManager {
	return &CheckpointManager{
		artifactRepo: artifactRepo,
	}
}

// RecordArtifact implements ArtifactRecorder
func (cm *CheckpointManager) RecordArtifact(
	ctx context.Context,
	runID string,
	typ models.ArtifactType,
	uri string,
	meta map[string]interface{},
) error {
	return cm.artifactRepo.CreateArtifact(ctx, runID, typ, uri, meta)
}

// GetBestCheckpoint returns the promoted checkpoint of a run
func (cm *CheckpointManager) GetBestCheckpoint(ctx context.Context, runID string) (string, error) {
	checkpoints, err := cm.ListCheckpoints(ctx, runID)
	if err != nil {
		return "", err
	}

	for _, artifact := range checkpoints {
		if promoted, _ := artifact.MetaJSON["promoted"].(bool); promoted {
			return artifact.URI, nil
		}
	}

	return "", fmt.Errorf("no promoted checkpoint for run %s", runID)
}

// ListCheckpoints lists all checkpoints for a run
func (cm *CheckpointManager) ListCheckpoints(ctx context.Context, runID string) ([]models.RunArtifact, error) {
	checkpointType := models.ArtifactTypeCheckpoint
	return cm.artifactRepo.GetRunArtifacts(ctx, runID, &checkpointType)
}
