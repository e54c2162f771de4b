// Package imagesource turns path-or-URL references into readable local files.
package imagesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Source is the result of resolving an image reference. Path always points
// at a readable local file. A remote source owns the temporary file behind
// Path and must be released with Cleanup once the consuming operation is
// done; a failed resolution is returned as (nil, error) instead, so a
// non-nil Source is always usable.
type Source struct {
	Path   string
	Remote bool
	temp   string // temporary file owned by this source, empty for local refs
}

// Cleanup removes the temporary file backing a remote source. It is
// idempotent and a no-op for local sources.
func (s *Source) Cleanup() {
	if s == nil || s.temp == "" {
		return
	}
	if err := os.Remove(s.temp); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to remove temporary file %s: %v\n", s.temp, err)
	}
	s.temp = ""
}

// IsRemote reports whether a reference is fetched over the network. Only
// the http:// and https:// schemes count; a local file whose name starts
// with "http" does not.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Options control remote fetching.
type Options struct {
	Timeout time.Duration // bound on the whole download, default 30s
}

// Resolve yields a local file path for a path-or-URL reference. Local paths
// pass through unchanged with no cleanup responsibility. URLs are fetched
// within the timeout bound and written to a temporary file whose extension
// is inferred from the URL path (default .jpg); on any failure no temporary
// file is left behind.
func Resolve(ctx context.Context, ref string, opts Options) (*Source, error) {
	if !IsRemote(ref) {
		return &Source{Path: ref}, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download failed (status %d)", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "facegallery-*"+extensionFor(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	return &Source{Path: tmp.Name(), Remote: true, temp: tmp.Name()}, nil
}

// extensionFor extracts the file extension from a URL path, defaulting to .jpg.
func extensionFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".jpg"
}
