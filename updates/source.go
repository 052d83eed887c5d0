package updates

import (
	"fmt"
	"net/url"
	"strings"
)

// SourceURL is a validated location of a remote update document.
type SourceURL struct {
	u *url.URL
}

// ParseSourceURL accepts absolute http, https, file and s3 URLs.
func ParseSourceURL(raw string) (SourceURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceURL{}, fmt.Errorf("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return SourceURL{}, fmt.Errorf("malformed URL %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return SourceURL{}, fmt.Errorf("URL %q is not absolute", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "s3":
		if u.Host == "" {
			return SourceURL{}, fmt.Errorf("URL %q has no host", raw)
		}
	case "file":
		if u.Path == "" {
			return SourceURL{}, fmt.Errorf("URL %q has no path", raw)
		}
	default:
		return SourceURL{}, fmt.Errorf("unsupported URL scheme %q in %q", u.Scheme, raw)
	}
	return SourceURL{u: u}, nil
}

func (s SourceURL) String() string {
	if s.u == nil {
		return ""
	}
	return s.u.String()
}

// IsZero reports whether the URL is unset.
func (s SourceURL) IsZero() bool {
	return s.u == nil
}

// Resolve interprets ref relative to s. Absolute references are returned unchanged.
func (s SourceURL) Resolve(ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("malformed reference %q: %w", ref, err)
	}
	if s.u == nil || r.IsAbs() {
		return r.String(), nil
	}
	return s.u.ResolveReference(r).String(), nil
}

// Sibling returns the URL with suffix appended to its path, e.g. ".sig".
func (s SourceURL) Sibling(suffix string) string {
	if s.u == nil {
		return ""
	}
	c := *s.u
	c.Path += suffix
	if c.RawPath != "" {
		c.RawPath += suffix
	}
	return c.String()
}
