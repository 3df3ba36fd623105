package queue

import "github.com/julianstephens/rollq/internal/rollq/segment"

// SetSyncSegment replaces the frame flush used by SyncOnAppend and returns a
// function restoring the original.
func SetSyncSegment(f func(seg *segment.Segment, off, n int64) error) (restore func()) {
	prev := syncSegment
	syncSegment = f
	return func() { syncSegment = prev }
}
