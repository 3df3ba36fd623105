package rollq

import "time"

// Supported on-disk format versions.
const (
	Version4       = 4
	Version5       = 5
	DefaultVersion = Version5
)

// Queue directory layout
const (
	ManifestFileName = "MANIFEST.json"
	ListingFileV4    = "directory-listing.cq4t"
	ListingFileV5    = "metadata.cq4t"
	SegmentExt       = ".cq4"
	TempExt          = ".tmp"
	ManifestVersion  = 1
)

// Segment sizing defaults
const (
	DefaultSegmentSize   int64 = 16 * 1024 * 1024
	DefaultSegmentGrowth int64 = 16 * 1024 * 1024
	DefaultMaxPayload          = 64 * 1024 * 1024
)

// Collect wait defaults
const (
	DefaultPollInterval = 10 * time.Millisecond
	MinPollInterval     = 50 * time.Microsecond
	DefaultSubscribeBuf = 64
)

// Log file defaults
const (
	DefaultAppDir        = ".rollq"
	DefaultLogDir        = "logs"
	DefaultLogFileName   = "rollq.log"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 28 // days
	DefaultLogLevel      = "warn"
)

// ListingFileName returns the listing file name used by the given format version.
func ListingFileName(version int) string {
	if version == Version4 {
		return ListingFileV4
	}
	return ListingFileV5
}

// SupportedVersion reports whether v is a format version this build can read and write.
func SupportedVersion(v int) bool {
	return v == Version4 || v == Version5
}
