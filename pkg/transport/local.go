package transport

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// Local serves files from the local filesystem.
type Local struct{}

// FetchFile checks that the file exists and returns its path.
func (Local) FetchFile(ctx context.Context, u *url.URL) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p := LocalPath(u)
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", p)
	}
	return p, nil
}

// ListDirectory lists the regular files in the directory, sorted by name.
func (Local) ListDirectory(ctx context.Context, u *url.URL) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(LocalPath(u))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		entries = append(entries, Entry{Name: d.Name(), Size: info.Size(), LastModified: info.ModTime()})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return entries, nil
}
