package updates

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Version is a release identifier ordered by numeric segments.
// The original text is kept as-is for display and equality with the
// fetched document.
type Version struct {
	raw    string
	parsed *goversion.Version
}

// ParseVersion validates s as an orderable version identifier.
func ParseVersion(s string) (Version, error) {
	if strings.TrimSpace(s) == "" {
		return Version{}, fmt.Errorf("empty version identifier")
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version identifier %q: %w", s, err)
	}
	return Version{raw: s, parsed: v}, nil
}

func (v Version) String() string {
	return v.raw
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.parsed == nil
}

// Compare returns -1, 0 or +1. Missing trailing segments count as zero,
// so "2.0" and "2.0.0" are equal.
func (v Version) Compare(other Version) int {
	switch {
	case v.parsed == nil && other.parsed == nil:
		return 0
	case v.parsed == nil:
		return -1
	case other.parsed == nil:
		return 1
	}
	return v.parsed.Compare(other.parsed)
}

// CompareVersions parses both identifiers and compares them.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsNewer reports whether server is strictly newer than installed.
func IsNewer(installed, server string) (bool, error) {
	c, err := CompareVersions(server, installed)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
