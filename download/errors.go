package download

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateDownload = errors.New("download already in progress")
	ErrNoFileName        = errors.New("path has no file name")
	ErrBadStatus         = errors.New("unexpected HTTP status")
	ErrNotRegularFile    = errors.New("not a regular file")
)

// DuplicateDownloadError is returned when another download to the same destination is still in flight. It matches
// ErrDuplicateDownload with errors.Is.
type DuplicateDownloadError struct {
	Key string
}

func (e *DuplicateDownloadError) Error() string {
	return fmt.Sprintf("something is already downloading to %s", e.Key)
}

func (e *DuplicateDownloadError) Is(target error) bool {
	return target == ErrDuplicateDownload
}

// IOError is a local filesystem failure: creating folders, or creating, writing or renaming the output file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NetworkError is a failure to open or keep reading the remote stream.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
