package download

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

// fileWriter hides *os.File's ReadFrom from io.Copy, so that every write failure is seen (and wrapped) here rather
// than being indistinguishable from a read failure.
type fileWriter struct {
	f    *os.File
	path string
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = &IOError{Op: "write", Path: w.path, Err: err}
	}
	return n, err
}

// writeFile streams r into a temporary file next to path, then moves it into place. The file at path only ever
// appears complete, and is never replaced if it already exists; on any failure the temporary file is removed.
func writeFile(path string, r io.Reader) (written int64, err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.part")
	if err != nil {
		return 0, &IOError{Op: "create", Path: path, Err: err}
	}
	tmpPath := f.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = f.Close()
		}
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierror.Append(err, &IOError{Op: "remove", Path: tmpPath, Err: rmErr})
		}
	}()

	if written, err = io.Copy(fileWriter{f, tmpPath}, r); err != nil {
		return written, err
	}
	if err = f.Sync(); err != nil {
		return written, &IOError{Op: "sync", Path: tmpPath, Err: err}
	}
	// CreateTemp uses 0600, which is unhelpful for a music library
	if err = f.Chmod(0o644); err != nil {
		return written, &IOError{Op: "chmod", Path: tmpPath, Err: err}
	}
	closed = true
	if err = f.Close(); err != nil {
		return written, &IOError{Op: "close", Path: tmpPath, Err: err}
	}
	if err = publish(tmpPath, path); err != nil {
		return written, err
	}
	return written, nil
}

// publish moves the finished temporary file to path without replacing anything that appeared there in the meantime.
// A hard link fails if path exists, unlike a rename. Filesystems without hard links fall back to renaming.
func publish(tmpPath string, path string) error {
	err := os.Link(tmpPath, path)
	switch {
	case err == nil:
		_ = os.Remove(tmpPath)
		return nil
	case os.IsExist(err):
		return &IOError{Op: "link", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
