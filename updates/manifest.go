package updates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"howett.net/plist"
)

// Manifest describes the latest release.
type Manifest struct {
	Version          string
	ArtifactURL      string
	SHA256           string
	SHA512           string
	ReleaseDate      string
	Notes            string
	Title            string
	BundleIdentifier string
}

// DefaultParser reads JSON, YAML and property-list manifests, optionally
// wrapped in xz compression and/or a PKCS#7 SignedData envelope.
//
// Two layouts are understood: a flat document
//
//	{"version": "3.0", "artifactUrl": "https://example.com/app.bin"}
//
// and the iOS over-the-air manifest served to itms-services, where the
// version is items[0].metadata.bundle-version and the artifact is the
// software-package asset.
type DefaultParser struct{}

func (DefaultParser) Parse(data []byte) (*Manifest, error) {
	payload, err := unwrapEnvelope(data)
	if err != nil {
		return nil, err
	}

	doc, err := decodeManifestDocument(payload)
	if err != nil {
		return nil, err
	}

	manifest := doc.manifest()
	if manifest.Version == "" {
		return nil, fmt.Errorf("manifest has no version")
	}
	if _, err := ParseVersion(manifest.Version); err != nil {
		return nil, err
	}
	return manifest, nil
}

// manifestDocument is the union of both supported layouts.
type manifestDocument struct {
	Version     scalar `json:"version" yaml:"version" plist:"version"`
	ArtifactURL string `json:"artifactUrl" yaml:"artifactUrl" plist:"artifactUrl"`
	SHA256      string `json:"sha256" yaml:"sha256" plist:"sha256"`
	SHA512      string `json:"sha512" yaml:"sha512" plist:"sha512"`
	ReleaseDate string `json:"releaseDate" yaml:"releaseDate" plist:"releaseDate"`
	Notes       string `json:"notes" yaml:"notes" plist:"notes"`

	Items []otaItem `json:"items" yaml:"items" plist:"items"`
}

type otaItem struct {
	Assets   []otaAsset  `json:"assets" yaml:"assets" plist:"assets"`
	Metadata otaMetadata `json:"metadata" yaml:"metadata" plist:"metadata"`
}

type otaAsset struct {
	Kind string `json:"kind" yaml:"kind" plist:"kind"`
	URL  string `json:"url" yaml:"url" plist:"url"`
}

type otaMetadata struct {
	BundleVersion    scalar `json:"bundle-version" yaml:"bundle-version" plist:"bundle-version"`
	BundleIdentifier string `json:"bundle-identifier" yaml:"bundle-identifier" plist:"bundle-identifier"`
	Title            string `json:"title" yaml:"title" plist:"title"`
}

const otaSoftwarePackage = "software-package"

func (d *manifestDocument) manifest() *Manifest {
	m := &Manifest{
		Version:     strings.TrimSpace(string(d.Version)),
		ArtifactURL: strings.TrimSpace(d.ArtifactURL),
		SHA256:      strings.TrimSpace(d.SHA256),
		SHA512:      strings.TrimSpace(d.SHA512),
		ReleaseDate: d.ReleaseDate,
		Notes:       d.Notes,
	}
	if len(d.Items) == 0 {
		return m
	}

	item := d.Items[0]
	if m.Version == "" {
		m.Version = strings.TrimSpace(string(item.Metadata.BundleVersion))
	}
	m.Title = item.Metadata.Title
	m.BundleIdentifier = item.Metadata.BundleIdentifier
	if m.ArtifactURL == "" {
		for _, asset := range item.Assets {
			if asset.Kind == otaSoftwarePackage {
				m.ArtifactURL = strings.TrimSpace(asset.URL)
				break
			}
		}
	}
	return m
}

func decodeManifestDocument(data []byte) (*manifestDocument, error) {
	var doc manifestDocument

	if bytes.HasPrefix(data, []byte("bplist")) {
		if _, err := plist.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse binary property list: %w", err)
		}
		return &doc, nil
	}

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}

	switch {
	case trimmed[0] == '<':
		if _, err := plist.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse property list: %w", err)
		}
	case trimmed[0] == '{':
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			// OpenStep property lists also open with a brace.
			if _, plistErr := plist.Unmarshal(trimmed, &doc); plistErr != nil {
				return nil, fmt.Errorf("failed to parse JSON manifest: %w", err)
			}
		}
	default:
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
		}
	}
	return &doc, nil
}

// scalar keeps a version exactly as written, so that an unquoted
// "version: 1.10" in YAML or a bare number in JSON is not turned into a
// float and reformatted.
type scalar string

func (s *scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = scalar(str)
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*s = scalar(b)
	default:
		return fmt.Errorf("version must be a string or a number, got %s", b)
	}
	return nil
}

func (s *scalar) UnmarshalYAML(b []byte) error {
	text := strings.TrimSpace(string(b))
	switch {
	case text == "" || text == "~" || text == "null":
		*s = ""
	case strings.HasPrefix(text, `"`):
		str, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("malformed quoted version %s: %w", text, err)
		}
		*s = scalar(str)
	case strings.HasPrefix(text, `'`):
		if len(text) < 2 || !strings.HasSuffix(text, `'`) {
			return fmt.Errorf("malformed quoted version %s", text)
		}
		*s = scalar(strings.ReplaceAll(text[1:len(text)-1], `''`, `'`))
	default:
		if i := strings.Index(text, " #"); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		*s = scalar(text)
	}
	return nil
}
