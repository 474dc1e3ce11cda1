package download

import (
	"os"
	"path/filepath"
)

// PathSpec describes where a download should be written. The folder is BasePath joined with FolderPath; either may
// be empty.
type PathSpec struct {
	FileName   string
	FolderPath string
	BasePath   string
}

// Folder returns the folder the file will be written into, or "." if the spec names no folder at all.
func (s PathSpec) Folder() string {
	folder := filepath.Join(s.BasePath, s.FolderPath)
	if folder == "" {
		return "."
	}
	return folder
}

// Resolve returns the full path of the file, without touching the filesystem.
func (s PathSpec) Resolve() (string, error) {
	if s.FileName == "" {
		return "", ErrNoFileName
	}
	return filepath.Join(s.Folder(), s.FileName), nil
}

// Key returns the destination key used to deduplicate downloads. Specs that resolve to the same file share a key.
func (s PathSpec) Key() (string, error) {
	return s.Resolve()
}

// EnsureFolder creates folder and any missing parents. The current directory is assumed to exist.
func EnsureFolder(folder string) error {
	if folder == "." || folder == "" {
		return nil
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: folder, Err: err}
	}
	return nil
}

// AlreadyDownloaded reports whether a regular file is already at path. Something other than a file there (such as
// a directory) can never become the download, so it is an *IOError.
func AlreadyDownloaded(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	if !info.Mode().IsRegular() {
		return false, &IOError{Op: "stat", Path: path, Err: ErrNotRegularFile}
	}
	return true, nil
}

// Exists reports whether something is at path. Any error while checking, not just "not found", counts as absent.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
