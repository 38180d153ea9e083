package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"vision-trainer/storage"
)

// ErrUnsafeEntry marks an archive entry that resolves outside the target directory
var ErrUnsafeEntry = errors.New("entry escapes target directory")

// ExtractionError reports a corrupt dataset archive or an unsafe entry
type ExtractionError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extract %s: entry %q: %v", e.Archive, e.Entry, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ExtractArchive unpacks a zip archive into targetDir, creating it if needed.
// Existing files are overwritten. Symlink entries are skipped. It returns
// the number of files written.
func ExtractArchive(archivePath, targetDir string) (int, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: err}
	}
	root, err := filepath.Abs(targetDir)
	if err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: err}
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: err}
	}
	defer zr.Close()

	count := 0
	for _, f := range zr.File {
		dst, err := safeJoin(root, f.Name)
		if err != nil {
			return count, &ExtractionError{Archive: archivePath, Entry: f.Name, Err: err}
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return count, &ExtractionError{Archive: archivePath, Entry: f.Name, Err: err}
			}
			continue
		case mode&fs.ModeSymlink != 0:
			continue
		}

		if err := extractFile(f, dst); err != nil {
			return count, &ExtractionError{Archive: archivePath, Entry: f.Name, Err: err}
		}
		count++
	}
	return count, nil
}

func safeJoin(root, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrUnsafeEntry
	}
	dst := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, dst)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafeEntry
	}
	return dst, nil
}

func extractFile(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Downloader copies a remote object to a local file
type Downloader interface {
	Download(ctx context.Context, src, localPath string) (int64, error)
}

// FetchDataset resolves uri to a local archive. Plain paths and objects
// visible under the bucket mount are used in place. Anything else is
// downloaded into a scratch directory under workDir, which the returned
// cleanup removes.
func FetchDataset(ctx context.Context, dl Downloader, uri, workDir, gcsMount string) (string, func(), error) {
	noop := func() {}

	u, err := storage.ParseURI(uri)
	if err != nil {
		return "", noop, &storage.TransferError{Op: storage.OpDownload, Src: uri, Err: err}
	}
	if local, ok := storage.LocalPathFor(uri, gcsMount); ok {
		if u.IsLocal() {
			return local, noop, nil
		}
		if _, err := os.Stat(local); err == nil {
			return local, noop, nil
		}
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", noop, &storage.TransferError{Op: storage.OpDownload, Src: uri, Dst: workDir, Err: err}
	}
	scratch, err := os.MkdirTemp(workDir, "dataset-*")
	if err != nil {
		return "", noop, &storage.TransferError{Op: storage.OpDownload, Src: uri, Dst: workDir, Err: err}
	}
	cleanup := func() { os.RemoveAll(scratch) }

	dst := filepath.Join(scratch, filepath.Base(u.Key))
	if _, err := dl.Download(ctx, uri, dst); err != nil {
		cleanup()
		return "", noop, err
	}
	return dst, cleanup, nil
}
