// Package fetcher reads static assets over HTTP or from the local filesystem
// and streams CSV files for bulk import.
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Fetcher defines the interface for reading a static asset.
type Fetcher interface {
	// Download fetches the location and returns the body. Callers close it.
	Download(ctx context.Context, location string) (io.ReadCloser, error)
}

// IsRemote reports whether the location is an http(s) URL.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Join appends a file name to a base URL or directory.
func Join(base, name string) string {
	if base == "" {
		return name
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}

// Auto dispatches remote locations to an HTTP fetcher and everything else to
// the filesystem.
type Auto struct {
	HTTP *HTTPFetcher
	File *FileFetcher
}

// NewAuto creates a fetcher that handles both URLs and local paths.
func NewAuto(opts HTTPOptions) *Auto {
	return &Auto{HTTP: NewHTTPFetcher(opts), File: &FileFetcher{}}
}

// Download implements Fetcher.
func (a *Auto) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	if IsRemote(location) {
		return a.HTTP.Download(ctx, location)
	}
	return a.File.Download(ctx, location)
}
