// Package fetch retrieves update documents and artifacts over http(s),
// from local files and from S3.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Fetcher matches updates.Fetcher without importing it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, int, error)
}

// Mux dispatches on the URL scheme.
type Mux struct {
	schemes map[string]Fetcher
}

// NewMux serves http, https, file and s3 with default settings.
func NewMux() *Mux {
	h := NewHTTPFetcher()
	m := &Mux{schemes: map[string]Fetcher{}}
	m.Handle("http", h)
	m.Handle("https", h)
	m.Handle("file", FileFetcher{})
	m.Handle("s3", &S3Fetcher{})
	return m
}

// Handle registers f for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, f Fetcher) {
	if m.schemes == nil {
		m.schemes = map[string]Fetcher{}
	}
	m.schemes[strings.ToLower(scheme)] = f
}

func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("malformed URL %q: %w", rawURL, err)
	}
	f, ok := m.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, 0, fmt.Errorf("no fetcher for scheme %q", u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}
