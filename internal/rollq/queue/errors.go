package queue

import (
	"errors"
	"fmt"

	"github.com/julianstephens/rollq/internal/rollq/errorutil"
)

var (
	ErrInvalidRollScheme  = errors.New("queue: invalid roll scheme")
	ErrUnsupportedVersion = errors.New("queue: unsupported format version")
	ErrInvalidOptions     = errors.New("queue: invalid options")
	ErrNotFound           = errors.New("queue: queue not found")
	ErrAlreadyOpen        = errors.New("queue: already open")
	ErrNotOpen            = errors.New("queue: not open")
	ErrConfigAfterOpen    = errors.New("queue: configuration after open")
	ErrVersionMismatch    = errors.New("queue: format version does not match persisted queue")
	ErrRollSchemeMismatch = errors.New("queue: roll scheme does not match persisted queue")
	ErrCorrupt            = errors.New("queue: persisted state corrupt")
	ErrAppendFailed       = errors.New("queue: append failed")
	ErrPayloadTooLarge    = errors.New("queue: payload too large")
	ErrPruned             = errors.New("queue: index pruned")
	ErrNoData             = errors.New("queue: no data available")
	ErrTailerClosed       = errors.New("queue: tailer closed")
	ErrPruneFailed        = errors.New("queue: prune failed")
	ErrSyncFailed         = errors.New("queue: record committed but sync failed")
)

// ErrIndexNotFound is returned when an index falls into a segment that is no
// longer present. It matches ErrPruned.
var ErrIndexNotFound = fmt.Errorf("queue: index not found: %w", ErrPruned)

// QueueError wraps queue-level failures with context.
// It preserves a stable sentinel in Err so callers can errors.Is against it.
type QueueError struct {
	*errorutil.Coordinates
	Err   error
	Op    string
	Dir   string
	Cause error
}

func (e *QueueError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if coords := e.FormatCoordinates(); coords != "" {
		msg += " " + coords
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *QueueError) Unwrap() error { return e.Err }

// CauseErr returns the underlying cause (not used by errors.Is).
func (e *QueueError) CauseErr() error { return e.Cause }

func wrapQueueErr(op string, sentinel error, dir string, coords *errorutil.Coordinates, cause error) error {
	return &QueueError{
		Coordinates: coords,
		Err:         sentinel,
		Op:          op,
		Dir:         dir,
		Cause:       cause,
	}
}
