package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunExists is returned when a run id has already been allocated
var ErrRunExists = errors.New("run already exists")

const (
	// RunIDLayout is the UTC timestamp layout of a run id
	RunIDLayout = "20060102-150405"

	// ArtifactsDirName is the subdirectory that mirrors the worker's output directory
	ArtifactsDirName = "artifacts"

	// BestCheckpointName is the checkpoint promoted next to the artifacts tree
	BestCheckpointName = "checkpoint_best_total.pth"

	// ResultsFileName is the results document written by the training library
	ResultsFileName = "results.json"
)

// Run identifies one training submission and owns its output path
type Run struct {
	ID            string
	ModelFamily   string
	BaseOutputDir string // <root>/<model-family>/<run-id>
	CreatedAt     time.Time
}

// NewRunID derives a run id from the submission time in UTC
func NewRunID(t time.Time) string {
	return t.UTC().Format(RunIDLayout)
}

// NewRun creates a run rooted at root, e.g. gs://visiondatabucket/models
func NewRun(root, modelFamily string, now time.Time) Run {
	id := NewRunID(now)
	return Run{
		ID:            id,
		ModelFamily:   modelFamily,
		BaseOutputDir: JoinURI(root, modelFamily, id),
		CreatedAt:     now.UTC(),
	}
}

// ArtifactsDir returns <base>/artifacts
func (r Run) ArtifactsDir() string {
	return ArtifactsDirFor(r.BaseOutputDir)
}

// BestCheckpointPath returns <base>/checkpoint_best_total.pth
func (r Run) BestCheckpointPath() string {
	return JoinURI(r.BaseOutputDir, BestCheckpointName)
}

// DisplayName returns the job display name for the given kind
func (r Run) DisplayName(kind JobKind) string {
	switch kind {
	case JobKindTuning:
		return fmt.Sprintf("%s_sweep_%s", r.ModelFamily, r.ID)
	default:
		return fmt.Sprintf("%s_train_%s", r.ModelFamily, r.ID)
	}
}

// ArtifactsDirFor returns the artifacts directory under an output root
func ArtifactsDirFor(base string) string {
	return JoinURI(base, ArtifactsDirName)
}

// JoinURI joins URI or path segments with single slashes, keeping the scheme intact
func JoinURI(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		if out == "" {
			out = e
			continue
		}
		out += "/" + e
	}
	return out
}
