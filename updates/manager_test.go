package updates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPListURL    = "http://x/manifest.json"
	testVersionURL  = "http://x/version.txt"
	testArtifactURL = "http://x/artifact.bin"
	testManifest    = `{"version":"3.0","artifactUrl":"http://x/artifact.bin"}`
)

type response struct {
	body   string
	status int
	err    error
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]response
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]response{}, calls: map[string]int{}}
}

func (f *fakeFetcher) serve(url, body string) {
	f.set(url, response{body: body, status: http.StatusOK})
}

func (f *fakeFetcher) set(url string, r response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = r
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	r, ok := f.responses[url]
	if !ok {
		return nil, http.StatusNotFound, nil
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	return []byte(r.body), r.status, nil
}

type recordingInstaller struct {
	mu        sync.Mutex
	artifacts []Artifact
	err       error
}

func (r *recordingInstaller) Install(_ context.Context, a Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, a)
	return r.err
}

func (r *recordingInstaller) installed() []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Artifact(nil), r.artifacts...)
}

func waitCheck(t *testing.T, ch <-chan CheckResult) CheckResult {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "channel closed without a result")
		_, open := <-ch
		assert.False(t, open, "channel must be closed after the result")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for check")
	}
	return CheckResult{}
}

func waitUpdate(t *testing.T, ch <-chan UpdateResult) UpdateResult {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "channel closed without a result")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return UpdateResult{}
}

func newTestManager(t *testing.T, f Fetcher, opts ...Option) *Manager {
	t.Helper()
	return New(append([]Option{WithFetcher(f)}, opts...)...)
}

func TestSharedManager_SingleInstance(t *testing.T) {
	const n = 64
	got := make([]*Manager, n)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := 0; i < n; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			got[i] = SharedManager()
		}(i)
	}
	start.Done()
	done.Wait()

	require.NotNil(t, got[0])
	for i := range got {
		assert.Same(t, got[0], got[i])
	}
	assert.Same(t, got[0], SharedManager())
}

func TestManager_SetURLs(t *testing.T) {
	m := New()
	require.NoError(t, m.SetPListURL("https://example.com/manifest.plist"))
	require.NoError(t, m.SetVersionURL(" https://example.com/version.txt "))
	assert.Equal(t, "https://example.com/manifest.plist", m.PListURL())
	assert.Equal(t, "https://example.com/version.txt", m.VersionURL())

	err := m.SetPListURL("not a url")
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "https://example.com/manifest.plist", m.PListURL(), "rejected value must not replace the old one")

	require.NoError(t, m.SetVersionURL(""))
	assert.Empty(t, m.VersionURL())
}

func TestCheckForUpdates_VersionDocument(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testVersionURL, "\ufeff 1.10.0-rc.1\r\n")
	m := newTestManager(t, f)
	require.NoError(t, m.SetVersionURL(testVersionURL))
	assert.Empty(t, m.CurrentServerVersion())

	r := waitCheck(t, m.CheckForUpdates(context.Background()))
	require.NoError(t, r.Err)
	assert.Equal(t, "1.10.0-rc.1", r.Version)
	assert.Equal(t, "1.10.0-rc.1", m.CurrentServerVersion())
}

func TestCheckForUpdates_PrefersVersionDocument(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testVersionURL, "2.0.0")
	f.serve(testPListURL, testManifest)
	m := newTestManager(t, f)
	require.NoError(t, m.SetVersionURL(testVersionURL))
	require.NoError(t, m.SetPListURL(testPListURL))

	r := waitCheck(t, m.CheckForUpdates(context.Background()))
	require.NoError(t, r.Err)
	assert.Equal(t, "2.0.0", m.CurrentServerVersion())
	assert.Zero(t, f.count(testPListURL))
}

func TestCheckForUpdates_FallsBackToManifest(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	m := newTestManager(t, f)
	require.NoError(t, m.SetPListURL(testPListURL))

	r := waitCheck(t, m.CheckForUpdates(context.Background()))
	require.NoError(t, r.Err)
	assert.Equal(t, "3.0", m.CurrentServerVersion())
	assert.Zero(t, f.count(testArtifactURL), "a check never downloads the artifact")
}

func TestCheckForUpdates_DowngradeIsStored(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testVersionURL, "2.0.0")
	m := newTestManager(t, f)
	require.NoError(t, m.SetVersionURL(testVersionURL))
	require.NoError(t, waitCheck(t, m.CheckForUpdates(context.Background())).Err)

	f.serve(testVersionURL, "1.5.0")
	require.NoError(t, waitCheck(t, m.CheckForUpdates(context.Background())).Err)
	assert.Equal(t, "1.5.0", m.CurrentServerVersion())
}

func TestCheckForUpdates_FailureKeepsVersion(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Manager, f *fakeFetcher)
		want  error
	}{
		{
			name:  "no urls",
			setup: func(m *Manager, f *fakeFetcher) { _ = m.SetVersionURL("") },
			want:  ErrConfiguration,
		},
		{
			name:  "transport error",
			setup: func(m *Manager, f *fakeFetcher) { f.set(testVersionURL, response{err: errors.New("connection refused")}) },
			want:  ErrNetwork,
		},
		{
			name:  "server error",
			setup: func(m *Manager, f *fakeFetcher) { f.set(testVersionURL, response{status: http.StatusInternalServerError}) },
			want:  ErrNetwork,
		},
		{
			name:  "not found",
			setup: func(m *Manager, f *fakeFetcher) { f.set(testVersionURL, response{status: http.StatusNotFound}) },
			want:  ErrNetwork,
		},
		{
			name:  "garbage",
			setup: func(m *Manager, f *fakeFetcher) { f.serve(testVersionURL, "<html>oops</html>") },
			want:  ErrParse,
		},
		{
			name:  "empty document",
			setup: func(m *Manager, f *fakeFetcher) { f.serve(testVersionURL, "  \n") },
			want:  ErrParse,
		},
		{
			name: "oversized document",
			setup: func(m *Manager, f *fakeFetcher) {
				f.serve(testVersionURL, "1.0.0"+string(make([]byte, maxVersionDocumentSize)))
			},
			want: ErrParse,
		},
		{
			name: "manifest without version",
			setup: func(m *Manager, f *fakeFetcher) {
				_ = m.SetVersionURL("")
				_ = m.SetPListURL(testPListURL)
				f.serve(testPListURL, `{"artifactUrl":"http://x/a.bin"}`)
			},
			want: ErrParse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			f.serve(testVersionURL, "1.2.3")
			m := newTestManager(t, f)
			require.NoError(t, m.SetVersionURL(testVersionURL))
			require.NoError(t, waitCheck(t, m.CheckForUpdates(context.Background())).Err)
			require.Equal(t, "1.2.3", m.CurrentServerVersion())

			tt.setup(m, f)
			r := waitCheck(t, m.CheckForUpdates(context.Background()))
			require.ErrorIs(t, r.Err, tt.want)
			assert.Empty(t, r.Version)
			assert.Equal(t, "1.2.3", m.CurrentServerVersion())
		})
	}
}

func TestCheckForUpdates_Concurrent(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testVersionURL, "4.0.0")
	m := newTestManager(t, f)
	require.NoError(t, m.SetVersionURL(testVersionURL))

	var chans []<-chan CheckResult
	for i := 0; i < 16; i++ {
		chans = append(chans, m.CheckForUpdates(context.Background()))
	}
	for _, ch := range chans {
		require.NoError(t, waitCheck(t, ch).Err)
	}
	assert.Equal(t, "4.0.0", m.CurrentServerVersion())
	assert.Equal(t, 16, f.count(testVersionURL))
}

func TestCheckForUpdates_LastCompletionWins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f := FetcherFunc(func(ctx context.Context, url string) ([]byte, int, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return []byte("1.0"), http.StatusOK, nil
		}
		return []byte("2.0"), http.StatusOK, nil
	})
	m := newTestManager(t, f)
	require.NoError(t, m.SetVersionURL(testVersionURL))

	slow := m.CheckForUpdates(context.Background())
	<-entered
	fast := waitCheck(t, m.CheckForUpdates(context.Background()))
	require.NoError(t, fast.Err)
	assert.Equal(t, "2.0", m.CurrentServerVersion())

	close(release)
	r := waitCheck(t, slow)
	require.NoError(t, r.Err)
	assert.Equal(t, "1.0", r.Version)
	assert.Equal(t, "1.0", m.CurrentServerVersion(), "the check that finished last wins, even if it started first")
}

func TestPerformUpdate_RequiresPListURL(t *testing.T) {
	f := newFakeFetcher()
	installer := &recordingInstaller{}
	m := newTestManager(t, f, WithInstaller(installer))
	require.NoError(t, m.SetVersionURL(testVersionURL))

	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r.Err, ErrConfiguration)
	assert.Equal(t, KindConfiguration, KindOf(r.Err))
	assert.Empty(t, installer.installed())
	assert.Zero(t, f.count(testPListURL))
}

func TestPerformUpdate_RequiresInstaller(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	m := newTestManager(t, f)
	require.NoError(t, m.SetPListURL(testPListURL))

	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r.Err, ErrConfiguration)
}

func TestPerformUpdate_InstallsArtifact(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	f.serve(testArtifactURL, "artifact-bytes")
	installer := &recordingInstaller{}
	m := newTestManager(t, f, WithInstaller(installer))
	require.NoError(t, m.SetPListURL(testPListURL))

	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.NoError(t, r.Err)
	assert.Equal(t, "3.0", r.Version)
	assert.Equal(t, testArtifactURL, r.ArtifactURL)
	assert.False(t, r.Shared)

	installed := installer.installed()
	require.Len(t, installed, 1)
	assert.Equal(t, Artifact{Version: "3.0", URL: testArtifactURL, Data: []byte("artifact-bytes")}, installed[0])
	assert.Equal(t, 1, f.count(testArtifactURL))
	assert.Empty(t, m.CurrentServerVersion(), "updates do not touch the checked version")
}

func TestPerformUpdate_RelativeArtifactURL(t *testing.T) {
	f := newFakeFetcher()
	f.serve("https://example.com/releases/manifest.plist", otaManifestXMLRelative)
	f.serve("https://example.com/releases/App-2.4.1.ipa", "ipa")
	installer := &recordingInstaller{}
	m := newTestManager(t, f, WithInstaller(installer))
	require.NoError(t, m.SetPListURL("https://example.com/releases/manifest.plist"))

	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.NoError(t, r.Err)
	assert.Equal(t, "https://example.com/releases/App-2.4.1.ipa", r.ArtifactURL)
	require.Len(t, installer.installed(), 1)
}

const otaManifestXMLRelative = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>items</key>
	<array>
		<dict>
			<key>assets</key>
			<array>
				<dict>
					<key>kind</key>
					<string>software-package</string>
					<key>url</key>
					<string>App-2.4.1.ipa</string>
				</dict>
			</array>
			<key>metadata</key>
			<dict>
				<key>bundle-version</key>
				<string>2.4.1</string>
			</dict>
		</dict>
	</array>
</dict>
</plist>
`

func TestPerformUpdate_VerifiesChecksum(t *testing.T) {
	sum := sha256.Sum256([]byte("artifact-bytes"))
	manifest := `{"version":"3.0","artifactUrl":"http://x/artifact.bin","sha256":"` + hex.EncodeToString(sum[:]) + `"}`

	f := newFakeFetcher()
	f.serve(testPListURL, manifest)
	f.serve(testArtifactURL, "artifact-bytes")
	installer := &recordingInstaller{}
	m := newTestManager(t, f, WithInstaller(installer))
	require.NoError(t, m.SetPListURL(testPListURL))

	require.NoError(t, waitUpdate(t, m.PerformUpdate(context.Background())).Err)

	f.serve(testArtifactURL, "tampered-bytes")
	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r.Err, ErrNetwork)
	assert.Contains(t, r.Err.Error(), "sha256 mismatch")
	assert.Len(t, installer.installed(), 1)
}

func TestPerformUpdate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fakeFetcher, i *recordingInstaller)
		installer Installer
		want      error
		installs  int
	}{
		{
			name:  "manifest missing",
			setup: func(f *fakeFetcher, i *recordingInstaller) {},
			want:  ErrNetwork,
		},
		{
			name:  "manifest malformed",
			setup: func(f *fakeFetcher, i *recordingInstaller) { f.serve(testPListURL, "{not json") },
			want:  ErrParse,
		},
		{
			name:  "no artifact url",
			setup: func(f *fakeFetcher, i *recordingInstaller) { f.serve(testPListURL, `{"version":"3.0"}`) },
			want:  ErrParse,
		},
		{
			name: "artifact download fails",
			setup: func(f *fakeFetcher, i *recordingInstaller) {
				f.serve(testPListURL, testManifest)
				f.set(testArtifactURL, response{status: http.StatusBadGateway})
			},
			want: ErrNetwork,
		},
		{
			name: "installer fails",
			setup: func(f *fakeFetcher, i *recordingInstaller) {
				f.serve(testPListURL, testManifest)
				f.serve(testArtifactURL, "bytes")
				i.err = errors.New("disk full")
			},
			want:     ErrInstallation,
			installs: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			installer := &recordingInstaller{}
			tt.setup(f, installer)
			m := newTestManager(t, f, WithInstaller(installer))
			require.NoError(t, m.SetPListURL(testPListURL))

			r := waitUpdate(t, m.PerformUpdate(context.Background()))
			require.ErrorIs(t, r.Err, tt.want)
			assert.Len(t, installer.installed(), tt.installs)
		})
	}
}

func TestPerformUpdate_InstallerPanic(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	f.serve(testArtifactURL, "bytes")
	m := newTestManager(t, f, WithInstaller(InstallerFunc(func(context.Context, Artifact) error {
		panic("boom")
	})))
	require.NoError(t, m.SetPListURL(testPListURL))

	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r.Err, ErrInstallation)
	assert.Contains(t, r.Err.Error(), "boom")
}

func TestPerformUpdate_OverlappingCallsJoin(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	f.serve(testArtifactURL, "artifact-bytes")

	var installs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	m := newTestManager(t, f, WithInstaller(InstallerFunc(func(_ context.Context, a Artifact) error {
		if installs.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	})))
	require.NoError(t, m.SetPListURL(testPListURL))

	first := m.PerformUpdate(context.Background())
	<-started
	second := m.PerformUpdate(context.Background())
	third := m.PerformUpdate(context.Background())
	close(release)

	for _, ch := range []<-chan UpdateResult{first, second, third} {
		r := waitUpdate(t, ch)
		require.NoError(t, r.Err)
		assert.True(t, r.Shared)
		assert.Equal(t, "3.0", r.Version)
	}
	assert.EqualValues(t, 1, installs.Load())
	assert.Equal(t, 1, f.count(testArtifactURL))

	// Once settled, the next call starts a fresh update.
	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.NoError(t, r.Err)
	assert.False(t, r.Shared)
	assert.EqualValues(t, 2, installs.Load())
}

func TestPerformUpdate_CancelledCallerDoesNotAbortJoinedCallers(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	f.serve(testArtifactURL, "artifact-bytes")

	started := make(chan struct{})
	release := make(chan struct{})
	var installs atomic.Int32
	m := newTestManager(t, f, WithInstaller(InstallerFunc(func(ctx context.Context, a Artifact) error {
		installs.Add(1)
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})))
	require.NoError(t, m.SetPListURL(testPListURL))

	ctx, cancel := context.WithCancel(context.Background())
	first := m.PerformUpdate(ctx)
	<-started
	second := m.PerformUpdate(context.Background())

	cancel()
	r := waitUpdate(t, first)
	require.ErrorIs(t, r.Err, context.Canceled)
	assert.Equal(t, KindNetwork, KindOf(r.Err))

	close(release)
	r = waitUpdate(t, second)
	require.NoError(t, r.Err)
	assert.True(t, r.Shared)
	assert.Equal(t, "3.0", r.Version)
	assert.EqualValues(t, 1, installs.Load())
}

func TestPerformUpdate_ManifestSignature(t *testing.T) {
	s := newTestSigner(t)
	f := newFakeFetcher()
	f.serve(testPListURL, testManifest)
	f.serve(testArtifactURL, "artifact-bytes")
	installer := &recordingInstaller{}
	m := newTestManager(t, f,
		WithInstaller(installer),
		WithVerifier(SSHSignatureVerifier{AuthorizedKeys: []string{s.authorizedKey()}}),
	)
	require.NoError(t, m.SetPListURL(testPListURL))

	r := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r.Err, ErrNetwork, "missing signature")

	f.serve(testPListURL+".sig", string(s.sign(t, []byte(`{"version":"9.9"}`), "file", "sha512")))
	r = waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r.Err, ErrParse, "signature over other content")
	assert.Empty(t, installer.installed())

	f.serve(testPListURL+".sig", string(s.sign(t, []byte(testManifest), "file", "sha512")))
	r = waitUpdate(t, m.PerformUpdate(context.Background()))
	require.NoError(t, r.Err)
	assert.Len(t, installer.installed(), 1)
}

func TestManager_Metrics(t *testing.T) {
	f := newFakeFetcher()
	f.serve(testVersionURL, "1.0.0")
	m := newTestManager(t, f)

	r := waitCheck(t, m.CheckForUpdates(context.Background()))
	require.ErrorIs(t, r.Err, ErrConfiguration)

	require.NoError(t, m.SetVersionURL(testVersionURL))
	require.NoError(t, waitCheck(t, m.CheckForUpdates(context.Background())).Err)
	require.NoError(t, waitCheck(t, m.CheckForUpdates(context.Background())).Err)
	r2 := waitUpdate(t, m.PerformUpdate(context.Background()))
	require.ErrorIs(t, r2.Err, ErrConfiguration)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.checks.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.checks.WithLabelValues("configuration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.updates.WithLabelValues("configuration")))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.Collectors()[0]))
	require.NoError(t, reg.Register(m.Collectors()[1]))
	count, err := testutil.GatherAndCount(reg, "updatemanager_checks_total", "updatemanager_updates_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestError_Format(t *testing.T) {
	err := errorf(KindNetwork, opCheck, testVersionURL, "unexpected status code %d", 503)
	assert.Equal(t, "checkForUpdates: network error for http://x/version.txt: unexpected status code 503", err.Error())
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrParse))
	assert.Equal(t, Kind(0), KindOf(errors.New("other")))
	assert.Equal(t, "unknown", Kind(0).String())
}
