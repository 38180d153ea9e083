// Package staging packages local datasets and trainer code and publishes
// them to the staging bucket.
package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"vision-trainer/core/models"
	"vision-trainer/core/monitoring"
	"vision-trainer/pkg/logging"
	"vision-trainer/storage"
)

// Uploader copies a local file to a storage URI
type Uploader interface {
	Upload(ctx context.Context, localPath, dst string) (int64, error)
}

// Stager publishes archives under <staging-root>/datasets and <staging-root>/packages
type Stager struct {
	uploader    Uploader
	stagingRoot string
	log         *logging.Logger
	metrics     *monitoring.Metrics
}

// NewStager creates a stager rooted at stagingRoot, e.g. gs://bucket
func NewStager(uploader Uploader, stagingRoot string, log *logging.Logger, metrics *monitoring.Metrics) *Stager {
	return &Stager{
		uploader:    uploader,
		stagingRoot: strings.TrimRight(stagingRoot, "/"),
		log:         log,
		metrics:     metrics,
	}
}

// DatasetURI returns <staging-root>/datasets/<name>.zip
func (s *Stager) DatasetURI(name string) string {
	return DatasetURI(s.stagingRoot, name)
}

// PackageURI returns <staging-root>/packages/trainer-<version>.tar.gz
func (s *Stager) PackageURI(version string) string {
	return PackageURI(s.stagingRoot, version)
}

// DatasetURI returns the staged location of a dataset archive
func DatasetURI(stagingRoot, name string) string {
	return models.JoinURI(stagingRoot, "datasets", name+".zip")
}

// PackageURI returns the staged location of the trainer package
func PackageURI(stagingRoot, version string) string {
	return models.JoinURI(stagingRoot, "packages", "trainer-"+version+".tar.gz")
}

// ArchiveName derives the archive base name from a dataset directory
func ArchiveName(datasetDir string) string {
	return filepath.Base(filepath.Clean(datasetDir))
}

// StageDataset zips datasetDir and uploads it, overwriting any previous
// archive of the same name. It returns the destination URI.
func (s *Stager) StageDataset(ctx context.Context, datasetDir string) (string, error) {
	name := ArchiveName(datasetDir)
	dst := s.DatasetURI(name)

	return dst, s.stage(ctx, datasetDir, dst, name+".zip", CreateZip)
}

// StagePackage tars the trainer source tree and uploads it as trainer-<version>.tar.gz
func (s *Stager) StagePackage(ctx context.Context, srcDir, version string) (string, error) {
	dst := s.PackageURI(version)
	return dst, s.stage(ctx, srcDir, dst, "trainer-"+version+".tar.gz", CreateTarGz)
}

func (s *Stager) stage(
	ctx context.Context,
	srcDir, dst, fileName string,
	build func(srcDir, archivePath string) (int, error),
) error {
	tmpDir, err := os.MkdirTemp("", "vt-stage-*")
	if err != nil {
		return &storage.TransferError{Op: storage.OpArchive, Src: srcDir, Dst: dst, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, fileName)
	s.log.Info("Creating archive", "src", srcDir, "archive", fileName)
	files, err := build(srcDir, archivePath)
	if err != nil {
		s.metrics.ObserveTransfer(storage.OpArchive, 0, err)
		return &storage.TransferError{Op: storage.OpArchive, Src: srcDir, Dst: dst, Err: err}
	}

	s.log.Info("Uploading archive", "dst", dst, "files", files)
	n, err := s.uploader.Upload(ctx, archivePath, dst)
	s.metrics.ObserveTransfer(storage.OpUpload, n, err)
	if err != nil {
		return asTransferError(err, archivePath, dst)
	}

	s.log.Info("Upload complete", "dst", dst, "bytes", n)
	return nil
}

func asTransferError(err error, src, dst string) error {
	var terr *storage.TransferError
	if errors.As(err, &terr) {
		return err
	}
	return &storage.TransferError{Op: storage.OpUpload, Src: src, Dst: dst, Err: err}
}
