package updates

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/slmcmahon/UpdateManager/fetch"
)

const (
	opCheck  = "checkForUpdates"
	opUpdate = "performUpdate"

	// A version document holds one identifier and nothing else.
	maxVersionDocumentSize = 256

	signatureSuffix = ".sig"
)

// Manager checks for and applies updates. Use SharedManager for the
// process-wide instance; New exists for tests and embedding.
//
// CheckForUpdates calls may overlap freely; CurrentServerVersion reflects
// whichever successful check completed last. Overlapping PerformUpdate
// calls join the one already in flight and receive its result. An update
// runs to completion once started; cancelling a caller's context only
// stops that caller from waiting.
type Manager struct {
	mu         sync.RWMutex
	plistURL   SourceURL
	versionURL SourceURL
	installer  Installer
	verifier   ManifestVerifier

	fetcher Fetcher
	parser  ManifestParser

	serverVersion atomic.Pointer[string]
	inflight      singleflight.Group
	metrics       *metrics
}

// Option configures a Manager built with New.
type Option func(*Manager)

func WithFetcher(f Fetcher) Option {
	return func(m *Manager) { m.fetcher = f }
}

func WithParser(p ManifestParser) Option {
	return func(m *Manager) { m.parser = p }
}

func WithInstaller(i Installer) Option {
	return func(m *Manager) { m.installer = i }
}

func WithVerifier(v ManifestVerifier) Option {
	return func(m *Manager) { m.verifier = v }
}

var sharedManager = sync.OnceValue(func() *Manager {
	return New()
})

// SharedManager returns the process-wide Manager, creating it on first use.
func SharedManager() *Manager {
	return sharedManager()
}

// New creates a Manager. Without options it fetches through fetch.NewMux
// and parses with DefaultParser; an Installer must be supplied before
// PerformUpdate can succeed.
func New(opts ...Option) *Manager {
	m := &Manager{
		fetcher: fetch.NewMux(),
		parser:  DefaultParser{},
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PListURL returns the manifest URL, or "" when unset.
func (m *Manager) PListURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plistURL.String()
}

// SetPListURL validates and stores the manifest URL. An empty string unsets it.
func (m *Manager) SetPListURL(raw string) error {
	u, err := parseOptionalURL("setPListUrl", raw)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.plistURL = u
	m.mu.Unlock()
	return nil
}

// VersionURL returns the version document URL, or "" when unset.
func (m *Manager) VersionURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionURL.String()
}

// SetVersionURL validates and stores the version document URL. An empty string unsets it.
func (m *Manager) SetVersionURL(raw string) error {
	u, err := parseOptionalURL("setVersionUrl", raw)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.versionURL = u
	m.mu.Unlock()
	return nil
}

// SetFetcher replaces the transport. A nil fetcher is ignored.
func (m *Manager) SetFetcher(f Fetcher) {
	if f == nil {
		return
	}
	m.mu.Lock()
	m.fetcher = f
	m.mu.Unlock()
}

func (m *Manager) SetInstaller(i Installer) {
	m.mu.Lock()
	m.installer = i
	m.mu.Unlock()
}

func (m *Manager) SetVerifier(v ManifestVerifier) {
	m.mu.Lock()
	m.verifier = v
	m.mu.Unlock()
}

// CurrentServerVersion is the identifier from the last successful check,
// or "" before one has completed.
func (m *Manager) CurrentServerVersion() string {
	if v := m.serverVersion.Load(); v != nil {
		return *v
	}
	return ""
}

// Collectors exposes the manager's counters for registration.
func (m *Manager) Collectors() []prometheus.Collector {
	return m.metrics.collectors()
}

// CheckForUpdates fetches the latest version identifier in the background.
// The channel receives exactly one result and is then closed.
func (m *Manager) CheckForUpdates(ctx context.Context) <-chan CheckResult {
	out := make(chan CheckResult, 1)
	go func() {
		defer close(out)
		version, err := m.check(ctx)
		out <- CheckResult{Version: version, Err: err}
	}()
	return out
}

// PerformUpdate downloads the artifact named by the manifest and hands it
// to the installer, in the background. It does not check whether the
// manifest version is newer; callers decide that with IsNewer first, or
// guard the Installer.
//
// The channel receives exactly one result and is then closed. If ctx is
// done before the update finishes, that result is a network error
// wrapping ctx.Err(), while the update itself carries on for any
// joined callers.
func (m *Manager) PerformUpdate(ctx context.Context) <-chan UpdateResult {
	out := make(chan UpdateResult, 1)
	// DoChan registers the call before returning, so a second PerformUpdate
	// issued after this one returns is guaranteed to join it.
	flight := m.inflight.DoChan(opUpdate, func() (interface{}, error) {
		return m.update(context.WithoutCancel(ctx))
	})
	go func() {
		defer close(out)
		select {
		case r := <-flight:
			res := UpdateResult{Shared: r.Shared, Err: r.Err}
			if done, ok := r.Val.(*UpdateResult); ok && done != nil {
				res.Version = done.Version
				res.ArtifactURL = done.ArtifactURL
			}
			out <- res
		case <-ctx.Done():
			out <- UpdateResult{Err: &Error{Kind: KindNetwork, Op: opUpdate, Err: ctx.Err()}}
		}
	}()
	return out
}

type snapshot struct {
	plistURL   SourceURL
	versionURL SourceURL
	installer  Installer
	verifier   ManifestVerifier
	fetcher    Fetcher
	parser     ManifestParser
}

func (m *Manager) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot{
		plistURL:   m.plistURL,
		versionURL: m.versionURL,
		installer:  m.installer,
		verifier:   m.verifier,
		fetcher:    m.fetcher,
		parser:     m.parser,
	}
}

func (m *Manager) check(ctx context.Context) (string, error) {
	s := m.snapshot()

	var version string
	var err error
	switch {
	case !s.versionURL.IsZero():
		version, err = m.fetchVersionDocument(ctx, s)
	case !s.plistURL.IsZero():
		var manifest *Manifest
		manifest, err = m.fetchManifest(ctx, s, opCheck)
		if err == nil {
			version = manifest.Version
		}
	default:
		err = errorf(KindConfiguration, opCheck, "", "neither version URL nor manifest URL is configured")
	}

	m.metrics.observeCheck(err)
	if err != nil {
		log.WithError(err).Warn("update check failed")
		return "", err
	}

	m.serverVersion.Store(&version)
	log.WithField("version", version).Info("update check completed")
	return version, nil
}

func (m *Manager) fetchVersionDocument(ctx context.Context, s snapshot) (string, error) {
	url := s.versionURL.String()
	body, err := fetchOK(ctx, s.fetcher, opCheck, url)
	if err != nil {
		return "", err
	}
	if len(body) > maxVersionDocumentSize {
		return "", errorf(KindParse, opCheck, url, "version document too large: %d bytes", len(body))
	}
	version := strings.TrimSpace(strings.TrimPrefix(string(body), "\ufeff"))
	if _, err := ParseVersion(version); err != nil {
		return "", &Error{Kind: KindParse, Op: opCheck, URL: url, Err: err}
	}
	return version, nil
}

func (m *Manager) fetchManifest(ctx context.Context, s snapshot, op string) (*Manifest, error) {
	url := s.plistURL.String()
	body, err := fetchOK(ctx, s.fetcher, op, url)
	if err != nil {
		return nil, err
	}

	if s.verifier != nil {
		sigURL := s.plistURL.Sibling(signatureSuffix)
		signature, err := fetchOK(ctx, s.fetcher, op, sigURL)
		if err != nil {
			return nil, err
		}
		if err := s.verifier.Verify(body, signature); err != nil {
			return nil, &Error{Kind: KindParse, Op: op, URL: url, Err: fmt.Errorf("manifest signature rejected: %w", err)}
		}
	}

	manifest, err := s.parser.Parse(body)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: op, URL: url, Err: err}
	}
	return manifest, nil
}

func (m *Manager) update(ctx context.Context) (*UpdateResult, error) {
	res, err := m.performUpdate(ctx)
	m.metrics.observeUpdate(err)
	if err != nil {
		log.WithError(err).Warn("update failed")
		return nil, err
	}
	log.WithFields(log.Fields{
		"version": res.Version,
		"url":     res.ArtifactURL,
	}).Info("update installed")
	return res, nil
}

func (m *Manager) performUpdate(ctx context.Context) (*UpdateResult, error) {
	s := m.snapshot()
	if s.plistURL.IsZero() {
		return nil, errorf(KindConfiguration, opUpdate, "", "manifest URL is not configured")
	}
	if s.installer == nil {
		return nil, errorf(KindConfiguration, opUpdate, "", "no installer configured")
	}

	manifest, err := m.fetchManifest(ctx, s, opUpdate)
	if err != nil {
		return nil, err
	}
	if manifest.ArtifactURL == "" {
		return nil, errorf(KindParse, opUpdate, s.plistURL.String(), "manifest has no artifact URL")
	}
	artifactURL, err := s.plistURL.Resolve(manifest.ArtifactURL)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: opUpdate, URL: s.plistURL.String(), Err: err}
	}

	log.WithFields(log.Fields{
		"version": manifest.Version,
		"url":     artifactURL,
	}).Info("downloading update artifact")

	data, err := fetchOK(ctx, s.fetcher, opUpdate, artifactURL)
	if err != nil {
		return nil, err
	}
	if err := verifyChecksums(manifest, data); err != nil {
		return nil, &Error{Kind: KindNetwork, Op: opUpdate, URL: artifactURL, Err: err}
	}

	artifact := Artifact{Version: manifest.Version, URL: artifactURL, Data: data}
	if err := install(ctx, s.installer, artifact); err != nil {
		return nil, &Error{Kind: KindInstallation, Op: opUpdate, URL: artifactURL, Err: err}
	}
	return &UpdateResult{Version: manifest.Version, ArtifactURL: artifactURL}, nil
}

// install keeps a panicking installer from taking the process down.
func install(ctx context.Context, installer Installer, artifact Artifact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("installer panicked: %v", r)
		}
	}()
	return installer.Install(ctx, artifact)
}

func fetchOK(ctx context.Context, f Fetcher, op, url string) ([]byte, error) {
	log.WithField("url", url).Debug("fetching")
	body, status, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, URL: url, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, errorf(KindNetwork, op, url, "unexpected status code %d", status)
	}
	return body, nil
}

func verifyChecksums(manifest *Manifest, data []byte) error {
	if manifest.SHA512 != "" {
		sum := sha512.Sum512(data)
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, manifest.SHA512) {
			return fmt.Errorf("artifact sha512 mismatch: expected %s, got %s", manifest.SHA512, got)
		}
	}
	if manifest.SHA256 != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, manifest.SHA256) {
			return fmt.Errorf("artifact sha256 mismatch: expected %s, got %s", manifest.SHA256, got)
		}
	}
	return nil
}

func parseOptionalURL(op, raw string) (SourceURL, error) {
	if strings.TrimSpace(raw) == "" {
		return SourceURL{}, nil
	}
	u, err := ParseSourceURL(raw)
	if err != nil {
		return SourceURL{}, &Error{Kind: KindConfiguration, Op: op, URL: raw, Err: err}
	}
	return u, nil
}
