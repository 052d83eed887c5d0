package updates

import "context"

// Fetcher retrieves a remote document. Transport failures are returned as
// errors; any HTTP-like status, successful or not, is returned as status.
// Retries, redirects and TLS are the fetcher's business.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, status int, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, int, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	return f(ctx, url)
}

// ManifestParser turns a fetched manifest into a Manifest.
type ManifestParser interface {
	Parse(data []byte) (*Manifest, error)
}

// ManifestVerifier checks a detached signature over the raw manifest bytes.
type ManifestVerifier interface {
	Verify(manifest, signature []byte) error
}

// Artifact is the downloaded update payload handed to the Installer.
type Artifact struct {
	Version string
	URL     string
	Data    []byte
}

// Installer applies a downloaded artifact. It is platform specific and
// lives outside this package.
type Installer interface {
	Install(ctx context.Context, artifact Artifact) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, artifact Artifact) error

func (f InstallerFunc) Install(ctx context.Context, artifact Artifact) error {
	return f(ctx, artifact)
}

// CheckResult is delivered once per CheckForUpdates call.
type CheckResult struct {
	Version string
	Err     error
}

// UpdateResult is delivered once per PerformUpdate call.
type UpdateResult struct {
	Version     string
	ArtifactURL string
	// Shared is set when overlapping calls joined one in-flight update.
	// Every participant, including the one that started it, sees it.
	Shared bool
	Err    error
}
