package record

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("record: truncated")
	ErrCorrupt          = errors.New("record: corrupt")
	ErrTooLarge         = errors.New("record: too large")
	ErrInvalidLength    = errors.New("record: invalid length")
	ErrChecksumMismatch = errors.New("record: checksum mismatch")
	ErrIndexMismatch    = errors.New("record: index mismatch")
	ErrDecompress       = errors.New("record: decompress failed")
)

type ParseErrorKind uint8

const (
	KindTruncated ParseErrorKind = iota
	KindInvalidLength
	KindTooLarge
	KindChecksumMismatch
	KindIndexMismatch
	KindCorrupt
	KindDecompress
)

func (k ParseErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindInvalidLength:
		return "invalid_length"
	case KindTooLarge:
		return "too_large"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindIndexMismatch:
		return "index_mismatch"
	case KindCorrupt:
		return "corrupt"
	case KindDecompress:
		return "decompress"
	default:
		return "unknown"
	}
}

type ParseError struct {
	Kind ParseErrorKind
	// Offset is the byte offset of the frame header word within its segment.
	Offset      int64
	DeclaredLen uint32
	Want        int
	Have        int
	// WantIndex and HaveIndex are set for KindIndexMismatch.
	WantIndex uint64
	HaveIndex uint64
	Err       error
}

func (e *ParseError) Error() string {
	cause := "<nil>"
	if e.Err != nil {
		cause = e.Err.Error()
	}
	if e.Kind == KindIndexMismatch {
		return fmt.Sprintf("record parse error kind=%s offset=%d want_index=%d have_index=%d: %s",
			e.Kind.String(), e.Offset, e.WantIndex, e.HaveIndex, cause)
	}
	return fmt.Sprintf("record parse error kind=%s offset=%d len=%d want=%d have=%d: %s",
		e.Kind.String(), e.Offset, e.DeclaredLen, e.Want, e.Have, cause)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	switch target {
	case ErrTruncated:
		return e.Kind == KindTruncated
	case ErrInvalidLength:
		return e.Kind == KindInvalidLength
	case ErrTooLarge:
		return e.Kind == KindTooLarge
	case ErrChecksumMismatch:
		return e.Kind == KindChecksumMismatch
	case ErrIndexMismatch:
		return e.Kind == KindIndexMismatch
	case ErrDecompress:
		return e.Kind == KindDecompress
	case ErrCorrupt:
		return e.Kind != KindTruncated
	}
	return false
}

func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func IsTruncation(err error) bool {
	return errors.Is(err, ErrTruncated)
}

// IsCorruption reports whether err describes committed bytes that fail validation.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
