package util

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

// FilenameFromURL returns the last path element of the URL, rejecting empty and dot-only names.
func FilenameFromURL(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoFilename
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "", ErrNoFilename
	}
	filename := path.Base(trimmed)
	// Don't allow "filenames" that are just ".", "..", etc.
	if strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

func FilenameFromURLString(s string) (string, error) {
	if parsedURL, err := url.Parse(s); err != nil {
		return "", err
	} else {
		return FilenameFromURL(parsedURL)
	}
}

// Extension returns the lower-cased extension of a filename without the leading dot, or "" if there is none.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// SanitizeFilename replaces path separators and other characters that are invalid in filenames on common
// platforms, so that metadata-derived names can't escape their folder.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
	)
	name = strings.TrimSpace(replacer.Replace(name))
	if strings.ReplaceAll(name, ".", "") == "" {
		return "_"
	}
	return name
}
