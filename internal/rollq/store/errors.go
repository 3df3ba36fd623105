package store

import (
	"errors"
	"fmt"
)

var (
	ErrNoQueue          = errors.New("store: no queue in directory")
	ErrQueueExists      = errors.New("store: queue already exists")
	ErrListingCorrupt   = errors.New("store: listing file corrupt")
	ErrListingOpen      = errors.New("store: open listing failed")
	ErrListingCreate    = errors.New("store: create listing failed")
	ErrAmbiguousVersion = errors.New("store: both v4 and v5 listing files present")
	ErrVersionMismatch  = errors.New("store: format version mismatch")
	ErrSchemeMismatch   = errors.New("store: roll scheme mismatch")
	ErrLock             = errors.New("store: lock failed")
	ErrSegmentList      = errors.New("store: list segments failed")
	ErrSegmentCreate    = errors.New("store: create segment failed")
	ErrPrune            = errors.New("store: prune failed")
	ErrClosed           = errors.New("store: closed")
)

// StoreError wraps directory-level failures with context.
// It preserves a stable sentinel in Err so callers can errors.Is against it.
type StoreError struct {
	Err   error
	Dir   string
	Op    string
	Cycle uint64
	Cause error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Err.Error(), e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *StoreError) Unwrap() error { return e.Err }

// CauseErr returns the underlying cause (not used by errors.Is).
func (e *StoreError) CauseErr() error { return e.Cause }

func wrapStoreErr(op string, sentinel error, dir string, cycle uint64, cause error) error {
	return &StoreError{
		Err:   sentinel,
		Dir:   dir,
		Op:    op,
		Cycle: cycle,
		Cause: cause,
	}
}

type ManifestErrorKind int

const (
	ManifestErrorKindNotFound ManifestErrorKind = iota + 1
	ManifestErrorKindUnsupportedVersion
	ManifestErrorKindEncode
	ManifestErrorKindDecode
	ManifestErrorKindWrite
	ManifestErrorKindAlreadyExists
	ManifestErrorKindInvalid
)

func (k ManifestErrorKind) String() string {
	switch k {
	case ManifestErrorKindNotFound:
		return "not_found"
	case ManifestErrorKindUnsupportedVersion:
		return "unsupported_version"
	case ManifestErrorKindEncode:
		return "encode"
	case ManifestErrorKindDecode:
		return "decode"
	case ManifestErrorKindWrite:
		return "write"
	case ManifestErrorKindAlreadyExists:
		return "already_exists"
	case ManifestErrorKindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

var (
	ErrManifestNotFound           = errors.New("manifest: file not found")
	ErrManifestUnsupportedVersion = errors.New("manifest: unsupported version")
	ErrManifestEncode             = errors.New("manifest: unable to encode to JSON")
	ErrManifestDecode             = errors.New("manifest: unable to decode from JSON")
	ErrManifestWrite              = errors.New("manifest: unable to write to file")
	ErrManifestAlreadyExists      = errors.New("manifest: file already exists")
	ErrManifestInvalid            = errors.New("manifest: invalid contents")
)

type ManifestError struct {
	Kind ManifestErrorKind
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest error (%s): %v", e.Kind, e.Err)
}

func (e *ManifestError) Unwrap() error {
	switch e.Kind {
	case ManifestErrorKindNotFound:
		return ErrManifestNotFound
	case ManifestErrorKindUnsupportedVersion:
		return ErrManifestUnsupportedVersion
	case ManifestErrorKindEncode:
		return ErrManifestEncode
	case ManifestErrorKindDecode:
		return ErrManifestDecode
	case ManifestErrorKindWrite:
		return ErrManifestWrite
	case ManifestErrorKindAlreadyExists:
		return ErrManifestAlreadyExists
	case ManifestErrorKindInvalid:
		return ErrManifestInvalid
	default:
		return e.Err
	}
}
