// Package transport makes local and remote files available to file sources.
// Remote files are downloaded into a cache directory on first access and
// served from there until they are removed from the cache.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// SchemeFile is the scheme of local paths.
const SchemeFile = "file"

// Entry describes one file of a directory listing.
type Entry struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Transport makes files available to the local process.
type Transport interface {
	// FetchFile returns the local path of the file at u, downloading it
	// first if necessary.
	FetchFile(ctx context.Context, u *url.URL) (string, error)

	// ListDirectory lists the regular files directly inside the directory u.
	ListDirectory(ctx context.Context, u *url.URL) ([]Entry, error)
}

// Remote is a transport for files that live somewhere else. The Router
// downloads remote files into its cache.
type Remote interface {
	Download(ctx context.Context, u *url.URL, w io.Writer) (int64, error)
	ListDirectory(ctx context.Context, u *url.URL) ([]Entry, error)
}

// Parse turns a location into a URL. Plain paths become file URLs.
func Parse(location string) (*url.URL, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("location is empty")
	}
	if !strings.Contains(location, "://") {
		abs, err := filepath.Abs(location)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %w", location, err)
		}
		return &url.URL{Scheme: SchemeFile, Path: filepath.ToSlash(abs)}, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", location, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// IsLocal reports whether u names a file on the local filesystem.
func IsLocal(u *url.URL) bool {
	return u.Scheme == "" || u.Scheme == SchemeFile
}

// LocalPath returns the filesystem path of a local URL.
func LocalPath(u *url.URL) string {
	return filepath.FromSlash(u.Path)
}

// Dir returns the URL of the directory containing u.
func Dir(u *url.URL) *url.URL {
	d := *u
	d.Path = path.Dir(u.Path)
	d.RawPath = ""
	return &d
}

// Base returns the file name of u.
func Base(u *url.URL) string {
	return path.Base(u.Path)
}

// Join returns the URL of name inside the directory u.
func Join(u *url.URL, name string) *url.URL {
	j := *u
	j.Path = path.Join(u.Path, name)
	j.RawPath = ""
	return &j
}

// Display formats u for messages: local URLs print as plain paths.
func Display(u *url.URL) string {
	if IsLocal(u) {
		return LocalPath(u)
	}
	return u.String()
}
