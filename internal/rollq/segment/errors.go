package segment

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic       = errors.New("segment: bad magic")
	ErrHeaderChecksum = errors.New("segment: header checksum mismatch")
	ErrHeaderShort    = errors.New("segment: header truncated")
	ErrExists         = errors.New("segment: already exists")
	ErrCreate         = errors.New("segment: create failed")
	ErrOpen           = errors.New("segment: open failed")
	ErrMap            = errors.New("segment: mmap failed")
	ErrGrow           = errors.New("segment: grow failed")
	ErrSync           = errors.New("segment: msync failed")
	ErrClose          = errors.New("segment: close failed")
	ErrReadOnly       = errors.New("segment: mapped read-only")
	ErrClosed         = errors.New("segment: closed")
	ErrBeyondEnd      = errors.New("segment: offset beyond end of file")
	ErrMisaligned     = errors.New("segment: misaligned offset")
)

// SegmentError wraps segment file failures with context.
// Err is one of the sentinels above so callers can errors.Is against it.
type SegmentError struct {
	Err    error
	Path   string
	Op     string
	Offset int64
	Cause  error
}

func (e *SegmentError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Err.Error(), e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *SegmentError) Unwrap() error { return e.Err }

// CauseErr returns the underlying cause (not used by errors.Is).
func (e *SegmentError) CauseErr() error { return e.Cause }

func wrapSegErr(op string, sentinel error, path string, offset int64, cause error) error {
	return &SegmentError{
		Err:    sentinel,
		Path:   path,
		Op:     op,
		Offset: offset,
		Cause:  cause,
	}
}
