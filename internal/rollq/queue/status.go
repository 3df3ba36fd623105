package queue

import "errors"

// Status is a small integer form of an error, for callers that cannot carry
// Go error values.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidRollScheme
	StatusUnsupportedVersion
	StatusInvalidOptions
	StatusNotFound
	StatusAlreadyOpen
	StatusNotOpen
	StatusConfigAfterOpen
	StatusVersionMismatch
	StatusRollSchemeMismatch
	StatusCorrupt
	StatusAppendFailed
	StatusPayloadTooLarge
	StatusIndexNotFound
	StatusPruned
	StatusNoData
	StatusTailerClosed
	StatusPruneFailed
	StatusSyncFailed
	StatusUnknown Status = 255
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidRollScheme:
		return "invalid_roll_scheme"
	case StatusUnsupportedVersion:
		return "unsupported_version"
	case StatusInvalidOptions:
		return "invalid_options"
	case StatusNotFound:
		return "not_found"
	case StatusAlreadyOpen:
		return "already_open"
	case StatusNotOpen:
		return "not_open"
	case StatusConfigAfterOpen:
		return "config_after_open"
	case StatusVersionMismatch:
		return "version_mismatch"
	case StatusRollSchemeMismatch:
		return "roll_scheme_mismatch"
	case StatusCorrupt:
		return "corrupt"
	case StatusAppendFailed:
		return "append_failed"
	case StatusPayloadTooLarge:
		return "payload_too_large"
	case StatusIndexNotFound:
		return "index_not_found"
	case StatusPruned:
		return "pruned"
	case StatusNoData:
		return "no_data"
	case StatusTailerClosed:
		return "tailer_closed"
	case StatusPruneFailed:
		return "prune_failed"
	case StatusSyncFailed:
		return "sync_failed"
	default:
		return "unknown"
	}
}

// statusTable is checked in order; ErrIndexNotFound must precede ErrPruned.
var statusTable = []struct {
	err    error
	status Status
}{
	{ErrInvalidRollScheme, StatusInvalidRollScheme},
	{ErrUnsupportedVersion, StatusUnsupportedVersion},
	{ErrInvalidOptions, StatusInvalidOptions},
	{ErrNotFound, StatusNotFound},
	{ErrAlreadyOpen, StatusAlreadyOpen},
	{ErrNotOpen, StatusNotOpen},
	{ErrConfigAfterOpen, StatusConfigAfterOpen},
	{ErrVersionMismatch, StatusVersionMismatch},
	{ErrRollSchemeMismatch, StatusRollSchemeMismatch},
	{ErrCorrupt, StatusCorrupt},
	{ErrAppendFailed, StatusAppendFailed},
	{ErrPayloadTooLarge, StatusPayloadTooLarge},
	{ErrIndexNotFound, StatusIndexNotFound},
	{ErrPruned, StatusPruned},
	{ErrNoData, StatusNoData},
	{ErrTailerClosed, StatusTailerClosed},
	{ErrPruneFailed, StatusPruneFailed},
	{ErrSyncFailed, StatusSyncFailed},
}

// Code maps err to its Status. A nil error is StatusOK.
func Code(err error) Status {
	if err == nil {
		return StatusOK
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return StatusUnknown
}
