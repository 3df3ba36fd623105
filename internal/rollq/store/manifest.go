package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"

	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/roll"
)

// Manifest is the immutable, human-readable description of a queue.
type Manifest struct {
	ManifestVersion int    `json:"manifest_version"`
	Version         int    `json:"version"`
	RollScheme      string `json:"roll_scheme"`
	RollFormat      string `json:"roll_format"`
	RollLengthSecs  int64  `json:"roll_length_secs"`
	RollEpoch       int64  `json:"roll_epoch"`
	IndexSpacing    int    `json:"index_spacing"`
	CreatedAt       string `json:"created_at"`
}

// NewManifest describes a queue of the given version rolled by s.
func NewManifest(version int, s roll.Scheme, now time.Time) *Manifest {
	return &Manifest{
		ManifestVersion: rollq.ManifestVersion,
		Version:         version,
		RollScheme:      s.Name,
		RollFormat:      s.Format,
		RollLengthSecs:  int64(s.Length / time.Second),
		RollEpoch:       s.Epoch.Unix(),
		IndexSpacing:    s.IndexSpacing,
		CreatedAt:       now.UTC().Format(time.RFC3339),
	}
}

// CreateManifest writes m to dir. It fails if a manifest already exists.
func CreateManifest(dir string, m *Manifest) error {
	manifestPath := filepath.Join(dir, rollq.ManifestFileName)
	if helpers.Exists(manifestPath) {
		return &ManifestError{
			Kind: ManifestErrorKindAlreadyExists,
			Err:  fmt.Errorf("manifest already exists at %s", manifestPath),
		}
	}

	data, err := jsonutil.Marshal(m)
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindEncode, Err: err}
	}
	return writeFile(manifestPath, data)
}

// ReadManifest reads and validates the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, rollq.ManifestFileName)
	if !helpers.Exists(manifestPath) {
		return nil, &ManifestError{Kind: ManifestErrorKindNotFound, Err: fs.ErrNotExist}
	}

	m := &Manifest{}
	if err := jsonutil.ReadFileStrict(manifestPath, m); err != nil {
		return nil, &ManifestError{Kind: ManifestErrorKindDecode, Err: err}
	}

	if m.ManifestVersion > rollq.ManifestVersion {
		return nil, &ManifestError{
			Kind: ManifestErrorKindUnsupportedVersion,
			Err:  fmt.Errorf("manifest version %d is not supported", m.ManifestVersion),
		}
	}
	if !rollq.SupportedVersion(m.Version) {
		return nil, &ManifestError{
			Kind: ManifestErrorKindUnsupportedVersion,
			Err:  fmt.Errorf("queue format version %d is not supported", m.Version),
		}
	}
	if _, err := roll.Lookup(m.RollScheme); err != nil {
		return nil, &ManifestError{Kind: ManifestErrorKindInvalid, Err: err}
	}

	return m, nil
}

func writeFile(filePath string, data []byte) error {
	if err := helpers.AtomicFileWrite(filePath, data); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	f, err := os.Open(filepath.Dir(filePath)) //nolint:gosec
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	defer func() { _ = f.Close() }()

	if err := f.Sync(); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	return nil
}
