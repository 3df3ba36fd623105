package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/queue"
)

// TestOptions returns small segments so tests exercise growth and rolling.
func TestOptions(clock *ManualClock) rollq.Options {
	opts := rollq.DefaultOptions()
	opts.SegmentSize = 4096
	opts.SegmentGrowth = 4096
	opts.PollInterval = time.Millisecond
	if clock != nil {
		opts.Clock = clock.Now
	}
	return opts
}

// OpenTestQueue configures and opens a queue in dir, creating it if missing.
// The queue is closed when the test ends if it is still open.
func OpenTestQueue(t *testing.T, dir, scheme string, opts rollq.Options) *queue.Queue {
	t.Helper()
	q := queue.NewWithOptions(dir, opts, nil)
	tst.RequireNoError(t, q.SetVersion(rollq.Version5))
	tst.RequireNoError(t, q.SetRollScheme(scheme))
	tst.RequireNoError(t, q.SetCreate(true))
	tst.RequireNoError(t, q.Open())
	t.Cleanup(func() {
		if q.State() == queue.StateOpen {
			_ = q.Close()
		}
	})
	return q
}

// ReopenTestQueue opens an existing queue in dir without configuring it, so
// the persisted version and scheme are adopted.
func ReopenTestQueue(t *testing.T, dir string, opts rollq.Options) *queue.Queue {
	t.Helper()
	q := queue.NewWithOptions(dir, opts, nil)
	tst.RequireNoError(t, q.Open())
	t.Cleanup(func() {
		if q.State() == queue.StateOpen {
			_ = q.Close()
		}
	})
	return q
}

// AppendAll appends each payload and returns the assigned indexes.
func AppendAll(t *testing.T, q *queue.Queue, payloads ...string) []uint64 {
	t.Helper()
	idxs := make([]uint64, 0, len(payloads))
	for _, p := range payloads {
		idx, err := q.Append([]byte(p))
		tst.RequireNoError(t, err)
		idxs = append(idxs, idx)
	}
	return idxs
}

// CollectN collects n records from tl, failing the test if they do not arrive
// within timeout.
func CollectN(t *testing.T, tl *queue.Tailer, n int, timeout time.Duration) []queue.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	recs := make([]queue.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := tl.Collect(ctx)
		tst.RequireNoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

// FlipByte inverts one byte of the file at path.
func FlipByte(t *testing.T, path string, off int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec
	tst.RequireNoError(t, err)
	defer func() { _ = f.Close() }()

	b := make([]byte, 1)
	_, err = f.ReadAt(b, off)
	tst.RequireNoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, off)
	tst.RequireNoError(t, err)
}
