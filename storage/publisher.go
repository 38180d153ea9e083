package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"vision-trainer/core/models"
	"vision-trainer/core/monitoring"
	"vision-trainer/pkg/logging"
)

// ArtifactRecorder records uploaded artifacts for a run
type ArtifactRecorder interface {
	RecordArtifact(ctx context.Context, runID string, typ models.ArtifactType, uri string, meta map[string]interface{}) error
}

// Publisher mirrors a local output directory to durable storage
type Publisher struct {
	router   *Router
	log      *logging.Logger
	metrics  *monitoring.Metrics
	recorder ArtifactRecorder
	runID    string
}

// PublishResult describes what was uploaded
type PublishResult struct {
	ArtifactsDir   string
	Files          []string
	BestCheckpoint string // empty when no best checkpoint was present
	Bytes          int64
}

// NewPublisher creates a publisher
func NewPublisher(router *Router, log *logging.Logger, metrics *monitoring.Metrics) *Publisher {
	return &Publisher{
		router:  router,
		log:     log,
		metrics: metrics,
	}
}

// WithRecorder records every uploaded file against runID
func (p *Publisher) WithRecorder(runID string, recorder ArtifactRecorder) *Publisher {
	cp := *p
	cp.runID = runID
	cp.recorder = recorder
	return &cp
}

// Publish uploads localDir to <destination>/artifacts/ and promotes the best
// checkpoint to <destination>/checkpoint_best_total.pth. A destination that
// already ends in /artifacts is treated as the artifacts directory itself.
func (p *Publisher) Publish(ctx context.Context, localDir, destination string) (*PublishResult, error) {
	base, artifacts := splitDestination(destination)

	p.log.Info("Uploading artifacts", "src", localDir, "dst", artifacts)
	files, n, err := p.Mirror(ctx, localDir, artifacts)
	if err != nil {
		return nil, err
	}
	result := &PublishResult{ArtifactsDir: artifacts, Files: files, Bytes: n}

	best := filepath.Join(localDir, models.BestCheckpointName)
	info, err := os.Stat(best)
	switch {
	case err == nil && info.Mode().IsRegular():
		dst := models.JoinURI(base, models.BestCheckpointName)
		p.log.Info("Uploading final checkpoint", "src", best, "dst", dst)
		size, err := p.upload(ctx, best, dst)
		if err != nil {
			return nil, err
		}
		result.BestCheckpoint = dst
		result.Bytes += size
		p.record(ctx, models.ArtifactTypeCheckpoint, dst, map[string]interface{}{"promoted": true, "bytes": size})
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, &TransferError{Op: OpCopy, Src: best, Dst: base, Err: err}
	}

	return result, nil
}

// Mirror uploads every regular file under localDir to dest/<relative path>.
// dest is always treated as a directory.
func (p *Publisher) Mirror(ctx context.Context, localDir, dest string) ([]string, int64, error) {
	dest = strings.TrimRight(dest, "/")

	info, err := os.Stat(localDir)
	if err != nil {
		return nil, 0, &TransferError{Op: OpCopy, Src: localDir, Dst: dest + "/", Err: err}
	}
	if !info.IsDir() {
		return nil, 0, &TransferError{Op: OpCopy, Src: localDir, Dst: dest + "/", Err: fmt.Errorf("not a directory")}
	}

	var (
		uploaded []string
		total    int64
	)
	err = filepath.WalkDir(localDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &TransferError{Op: OpCopy, Src: path, Dst: dest + "/", Err: walkErr}
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return &TransferError{Op: OpCopy, Src: path, Dst: dest + "/", Err: err}
		}
		dst := models.JoinURI(dest, filepath.ToSlash(rel))
		n, err := p.upload(ctx, path, dst)
		if err != nil {
			return err
		}
		uploaded = append(uploaded, dst)
		total += n
		p.record(ctx, models.ArtifactTypeFor(rel), dst, map[string]interface{}{"bytes": n})
		return nil
	})
	if err != nil {
		return uploaded, total, err
	}
	return uploaded, total, nil
}

func (p *Publisher) upload(ctx context.Context, src, dst string) (int64, error) {
	n, err := p.router.Upload(ctx, src, dst)
	p.metrics.ObserveTransfer(OpUpload, n, err)
	p.log.TransferLog(OpUpload, src, dst, n, err)
	return n, err
}

func (p *Publisher) record(ctx context.Context, typ models.ArtifactType, uri string, meta map[string]interface{}) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordArtifact(ctx, p.runID, typ, uri, meta); err != nil {
		p.log.Warn("Failed to record artifact", "uri", uri, "error", err)
	}
}

// splitDestination returns the run base and its artifacts directory
func splitDestination(destination string) (base, artifacts string) {
	d := strings.TrimRight(destination, "/")
	suffix := "/" + models.ArtifactsDirName
	if strings.HasSuffix(d, suffix) {
		return strings.TrimSuffix(d, suffix), d
	}
	return d, models.ArtifactsDirFor(d)
}
