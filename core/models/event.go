package models

import (
	"path"
	"strings"
	"time"
)

// RunEvent represents a state transition of a run
type RunEvent struct {
	ID        int64
	RunID     string
	At        time.Time
	FromState *JobState
	ToState   JobState
	Reason    string
	MetaJSON  map[string]interface{}
}

// ArtifactType represents the type of run artifact
type ArtifactType string

const (
	ArtifactTypeCheckpoint ArtifactType = "checkpoint"
	ArtifactTypeResults    ArtifactType = "results"
	ArtifactTypeOutput     ArtifactType = "output"
	ArtifactTypeDataset    ArtifactType = "dataset"
	ArtifactTypePackage    ArtifactType = "package"
)

// RunArtifact is an object uploaded for a run
type RunArtifact struct {
	ID        int64
	RunID     string
	Type      ArtifactType
	URI       string
	CreatedAt time.Time
	MetaJSON  map[string]interface{}
}

// ArtifactTypeFor classifies an uploaded file by name
func ArtifactTypeFor(name string) ArtifactType {
	base := path.Base(name)
	switch {
	case base == ResultsFileName:
		return ArtifactTypeResults
	case strings.HasSuffix(base, ".pth"):
		return ArtifactTypeCheckpoint
	default:
		return ArtifactTypeOutput
	}
}
