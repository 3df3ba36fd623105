package index

import "errors"

var (
	// Returned when SetNext attempts to move the counter backwards.
	ErrIndexRegression = errors.New("index: record index regression")

	// Returned when a lease is used after Release.
	ErrLeaseReleased = errors.New("index: lease already released")

	// Returned when Commit is given an index other than the leased one.
	ErrIndexMismatch = errors.New("index: committed index does not match lease")

	// Returned when the counter would overflow uint64.
	ErrIndexOverflow = errors.New("index: record index overflow")
)

type IndexError struct {
	Err  error
	Have uint64
	Want uint64
}

func (e *IndexError) Error() string { return e.Err.Error() }
func (e *IndexError) Unwrap() error { return e.Err }
