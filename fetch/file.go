package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// FileFetcher reads file:// URLs. A missing file is reported as status 404
// so callers treat it like a missing remote document.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	path, err := filePath(rawURL)
	if err != nil {
		return nil, 0, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, http.StatusNotFound, nil
	case err != nil:
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, http.StatusOK, nil
}

func filePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("malformed file URL %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file URL: %s", rawURL)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote file URLs are not supported: %s", rawURL)
	}
	return filepath.FromSlash(u.Path), nil
}
