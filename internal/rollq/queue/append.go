package queue

import (
	"errors"
	"time"

	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/errorutil"
	"github.com/julianstephens/rollq/internal/rollq/index"
	"github.com/julianstephens/rollq/internal/rollq/record"
	"github.com/julianstephens/rollq/internal/rollq/segment"
)

// writer is the handle's read-write view of the newest segment. It is only
// touched with writeMu and the listing lock held.
type writer struct {
	seg *segment.Segment
	off int64
	eof bool
}

func (w *writer) close() error {
	if w == nil || w.seg == nil {
		return nil
	}
	return w.seg.Close()
}

// Append commits payload and returns its index. The cycle is taken from the
// handle's clock.
func (q *Queue) Append(payload []byte) (uint64, error) {
	return q.AppendAt(payload, q.opts.Clock())
}

// AppendAt commits payload as if appended at t. A t older than the newest
// segment lands in the newest segment; cycles never go backwards.
//
// With SyncOnAppend, a failed flush returns the committed index together with
// an error matching ErrSyncFailed; the record is readable by tailers. Any
// other error means nothing was appended.
func (q *Queue) AppendAt(payload []byte, t time.Time) (uint64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.state != StateOpen {
		return 0, q.fail(wrapQueueErr("append", ErrNotOpen, q.dir, nil, nil))
	}

	stored, flags := record.PreparePayload(payload, q.opts.Compression == rollq.CompressionS2)
	if err := record.ValidatePayloadLength(len(stored), q.opts.MaxPayload); err != nil {
		return 0, q.fail(wrapQueueErr("append", ErrPayloadTooLarge, q.dir, nil, err))
	}

	q.writeMu.Lock()
	idx, err := q.appendLocked(stored, flags, t)
	q.writeMu.Unlock()
	if errors.Is(err, ErrSyncFailed) {
		q.wake()
		return idx, q.fail(err)
	}
	if err != nil {
		return 0, q.fail(err)
	}

	q.wake()
	q.lg.Debug("record appended", "dir", q.dir, "index", idx, "len", len(payload), "stored", len(stored))
	return idx, nil
}

func (q *Queue) appendLocked(stored []byte, flags uint32, t time.Time) (idx uint64, err error) {
	lease, err := q.alloc.Acquire()
	if err != nil {
		return 0, wrapQueueErr("append", ErrAppendFailed, q.dir, nil, err)
	}
	defer func() {
		if rerr := lease.Release(); err == nil && rerr != nil {
			err = wrapQueueErr("append", ErrAppendFailed, q.dir, nil, rerr)
		}
	}()

	if err := q.syncWriter(lease); err != nil {
		return 0, err
	}

	cycle := q.scheme.Cycle(t)
	if q.w != nil && cycle < q.w.seg.Cycle() {
		cycle = q.w.seg.Cycle()
	}
	if q.w == nil || q.w.eof || cycle > q.w.seg.Cycle() {
		if err := q.roll(lease, cycle, t); err != nil {
			return 0, err
		}
	}

	w := q.w
	idx = lease.Index()
	off := w.off
	coords := errorutil.At(w.seg.Cycle(), off).WithIndex(idx)
	next, err := w.seg.Write(off, idx, flags, stored)
	if err != nil {
		return 0, wrapQueueErr("append", ErrAppendFailed, q.dir, coords, err)
	}
	// the header word is published; from here the record is visible
	var syncErr error
	if q.opts.SyncOnAppend {
		syncErr = syncSegment(w.seg, off, next-off)
	}
	if err := lease.Commit(idx); err != nil {
		return 0, wrapQueueErr("append", ErrAppendFailed, q.dir, coords, err)
	}
	w.off = next
	q.st.Remember(w.seg.Cycle(), w.seg.BaseIndex(), idx, off)
	if syncErr != nil {
		return idx, wrapQueueErr("append", ErrSyncFailed, q.dir, coords, syncErr)
	}
	return idx, nil
}

// syncSegment flushes a written frame. Tests replace it to inject failures.
var syncSegment = func(seg *segment.Segment, off, n int64) error {
	return seg.Sync(off, n)
}

// syncWriter points the writer at the newest segment and moves it past any
// records other writers committed since this handle last wrote.
func (q *Queue) syncWriter(lease *index.Lease) error {
	if err := q.st.Refresh(false); err != nil {
		return wrapQueueErr("append", ErrAppendFailed, q.dir, nil, err)
	}
	last, ok := q.st.Last()
	if !ok {
		_ = q.w.close()
		q.w = nil
		return nil
	}

	if q.w == nil || q.w.seg.Path() != last.Path {
		_ = q.w.close()
		q.w = nil
		seg, err := segment.Open(last.Path, true, q.opts.SegmentGrowth)
		if err != nil {
			return wrapQueueErr("append", ErrAppendFailed, q.dir, errorutil.At(last.Cycle(), 0), err)
		}
		q.w = &writer{seg: seg, off: segment.FirstOffset()}
	}

	w := q.w
	for !w.eof {
		e, err := w.seg.Read(w.off)
		if err != nil {
			return wrapQueueErr("append", ErrCorrupt, q.dir, errorutil.At(w.seg.Cycle(), w.off), err)
		}
		switch e.Kind {
		case segment.EntryEmpty:
			lease.Sync()
			return nil
		case segment.EntryEOF:
			w.eof = true
		case segment.EntryData:
			lease.Observe(e.Frame.Index)
			w.off = e.Next
		default:
			w.off = e.Next
		}
	}
	lease.Sync()
	return nil
}

// roll closes off the current segment and starts the one for cycle.
func (q *Queue) roll(lease *index.Lease, cycle uint64, t time.Time) error {
	if q.w != nil {
		old := q.w
		if cycle <= old.seg.Cycle() {
			// the newest segment was already ended by a writer that stopped before
			// creating its successor
			cycle = old.seg.Cycle() + 1
		}
		if !old.eof {
			if err := old.seg.WriteEOF(old.off); err != nil {
				return wrapQueueErr("roll", ErrAppendFailed, q.dir, errorutil.At(old.seg.Cycle(), old.off), err)
			}
			old.eof = true
		}
		_ = old.close()
		q.w = nil
	}

	seg, err := q.st.CreateSegment(cycle, lease.Index(), t, q.opts.SegmentSize, q.opts.SegmentGrowth)
	if err != nil {
		return wrapQueueErr("roll", ErrAppendFailed, q.dir, errorutil.At(cycle, 0), err)
	}
	q.w = &writer{seg: seg, off: segment.FirstOffset()}
	q.lg.Info("segment rolled", "dir", q.dir, "cycle", cycle, "file", q.scheme.FileName(cycle), "base_index", lease.Index())
	return nil
}
