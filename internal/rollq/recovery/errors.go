package recovery

import (
	"errors"
	"fmt"

	"github.com/julianstephens/rollq/internal/rollq/errorutil"
)

var (
	ErrSegmentOrder = errors.New("recovery: invalid segment order")
	ErrSegmentOpen  = errors.New("recovery: failed to open segment")
	ErrSegmentClose = errors.New("recovery: failed to close segment")
	ErrIndexGap     = errors.New("recovery: record index gap")
	ErrCorrupt      = errors.New("recovery: corrupt segment")
	ErrPatch        = errors.New("recovery: failed to patch segment end")
)

type RecoveryErrorKind int

const (
	RecoveryUnknown RecoveryErrorKind = iota
	RecoverySegmentOrder
	RecoverySegmentOpen
	RecoverySegmentClose
	RecoveryIndexGap
	RecoveryCorrupt
	RecoveryPatch
)

// RecoveryError reports where in the queue recovery stopped.
type RecoveryError struct {
	*errorutil.Coordinates
	Kind  RecoveryErrorKind
	Path  string
	Cause error
	Err   error
}

func (e *RecoveryError) Error() string {
	coords := ""
	if e.Coordinates != nil {
		coords = e.FormatCoordinates()
	}
	if e.Cause != nil {
		return fmt.Sprintf("recovery: %s %s: %v (cause: %v)", e.Path, coords, e.Unwrap(), e.Cause)
	}
	return fmt.Sprintf("recovery: %s %s: %v", e.Path, coords, e.Unwrap())
}

func (e *RecoveryError) Unwrap() error {
	switch e.Kind {
	case RecoverySegmentOrder:
		return ErrSegmentOrder
	case RecoverySegmentOpen:
		return ErrSegmentOpen
	case RecoverySegmentClose:
		return ErrSegmentClose
	case RecoveryIndexGap:
		return ErrIndexGap
	case RecoveryCorrupt:
		return ErrCorrupt
	case RecoveryPatch:
		return ErrPatch
	default:
		return e.Err
	}
}
