package staging

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// CreateZip writes a zip archive of srcDir to archivePath. Entry names are
// relative to srcDir, so the archive mirrors the directory tree. Symlinks
// are skipped.
func CreateZip(srcDir, archivePath string) (int, error) {
	if err := checkDir(srcDir); err != nil {
		return 0, err
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(out)

	count := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if d.IsDir() {
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		}

		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if err := copyInto(w, path); err != nil {
			return err
		}
		count++
		return nil
	})

	if err := zw.Close(); walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(archivePath)
		return 0, walkErr
	}
	return count, nil
}

// CreateTarGz writes a gzip-compressed tarball of srcDir to archivePath
func CreateTarGz(srcDir, archivePath string) (int, error) {
	if err := checkDir(srcDir); err != nil {
		return 0, err
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return 0, err
	}
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	count := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." || d.Type()&fs.ModeSymlink != 0 || skipPackaged(d) {
			if d.IsDir() && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := copyInto(tw, path); err != nil {
			return err
		}
		count++
		return nil
	})

	for _, c := range []io.Closer{tw, gw, out} {
		if err := c.Close(); walkErr == nil {
			walkErr = err
		}
	}
	if walkErr != nil {
		os.Remove(archivePath)
		return 0, walkErr
	}
	return count, nil
}

// skipPackaged drops bytecode and VCS metadata from the trainer package
func skipPackaged(d fs.DirEntry) bool {
	name := d.Name()
	if d.IsDir() {
		return name == "__pycache__" || name == ".git" || strings.HasSuffix(name, ".egg-info")
	}
	return strings.HasSuffix(name, ".pyc")
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
