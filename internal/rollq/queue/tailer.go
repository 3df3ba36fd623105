package queue

import (
	"context"
	"sync"
	"time"

	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/errorutil"
	"github.com/julianstephens/rollq/internal/rollq/record"
	"github.com/julianstephens/rollq/internal/rollq/segment"
)

// Record is one collected record. Payload is owned by the caller.
type Record struct {
	Index   uint64
	Cycle   uint64
	Payload []byte
}

// Tailer is an independent read cursor over a Queue. It delivers records in
// index order starting from its start index. A Tailer is safe for concurrent
// use, though concurrent callers share one cursor.
type Tailer struct {
	q    *Queue
	gen  uint64
	done <-chan struct{}

	mu     sync.Mutex
	next   uint64
	seg    *segment.Segment
	off    int64
	atEOF  bool
	closed bool
}

// Tailer returns a cursor positioned at start. A start of 0 means the lowest
// retained index.
func (q *Queue) Tailer(start uint64) (*Tailer, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.state != StateOpen {
		return nil, q.fail(wrapQueueErr("tailer", ErrNotOpen, q.dir, nil, nil))
	}
	if start == 0 {
		start = q.st.Listing().LowestIndex()
	}

	t := &Tailer{q: q, gen: q.gen, done: q.done, next: start}
	q.tailersMu.Lock()
	q.tailers[t] = struct{}{}
	q.tailersMu.Unlock()
	q.lg.Debug("tailer created", "dir", q.dir, "start", start)
	return t, nil
}

// Index returns the index the next collect will deliver.
func (t *Tailer) Index() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// TryCollect returns the record at the cursor if it is available. It never
// blocks; ok is false when the record has not been appended yet.
func (t *Tailer) TryCollect() (rec Record, ok bool, err error) {
	q := t.q
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.state != StateOpen || q.gen != t.gen {
		return Record{}, false, q.fail(wrapQueueErr("collect", ErrNotOpen, q.dir, nil, nil))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Record{}, false, q.fail(wrapQueueErr("collect", ErrTailerClosed, q.dir, nil, nil))
	}
	rec, ok, err = t.advanceLocked()
	if err != nil {
		return Record{}, false, q.fail(err)
	}
	return rec, ok, nil
}

// Collect blocks until the record at the cursor is available and returns it.
// It returns an error matching ErrNoData when ctx is done first, and ErrNotOpen
// once the queue is closed.
func (t *Tailer) Collect(ctx context.Context) (Record, error) {
	q := t.q
	backoff := rollq.MinPollInterval
	for {
		// take the wake channel before looking so an append in between is not missed
		wake := q.waitChan()
		rec, ok, err := t.TryCollect()
		if err != nil {
			return Record{}, err
		}
		if ok {
			return rec, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Record{}, wrapQueueErr("collect", ErrNoData, q.dir, nil, ctx.Err())
		case <-t.done:
			timer.Stop()
			return Record{}, q.fail(wrapQueueErr("collect", ErrNotOpen, q.dir, nil, nil))
		case <-wake:
			timer.Stop()
			backoff = rollq.MinPollInterval
		case <-timer.C:
			backoff *= 2
			if backoff > q.opts.PollInterval {
				backoff = q.opts.PollInterval
			}
		}
	}
}

// advanceLocked reads forward from the cursor. It requires t.mu and a read
// lock on the queue.
func (t *Tailer) advanceLocked() (Record, bool, error) {
	q := t.q
	for {
		if t.seg == nil {
			found, err := t.locateLocked()
			if err != nil || !found {
				return Record{}, false, err
			}
		}
		if t.atEOF {
			moved, err := t.crossLocked()
			if err != nil || !moved {
				return Record{}, false, err
			}
		}

		e, err := t.seg.Read(t.off)
		if err != nil {
			return Record{}, false, wrapQueueErr("collect", ErrCorrupt, q.dir, t.coords(), err)
		}
		switch e.Kind {
		case segment.EntryEmpty:
			return Record{}, false, nil
		case segment.EntryEOF:
			t.atEOF = true
			continue
		case segment.EntrySkip:
			t.off = e.Next
			continue
		}

		f := e.Frame
		if f.Index < t.next {
			t.off = e.Next
			continue
		}
		if f.Index > t.next {
			return Record{}, false, wrapQueueErr("collect", ErrCorrupt, q.dir, t.coords(), &record.ParseError{
				Kind:      record.KindIndexMismatch,
				Offset:    f.Offset,
				WantIndex: t.next,
				HaveIndex: f.Index,
				Err:       record.ErrIndexMismatch,
			})
		}

		payload, err := record.PayloadOf(f)
		if err != nil {
			return Record{}, false, wrapQueueErr("collect", ErrCorrupt, q.dir, t.coords(), err)
		}
		q.st.Remember(t.seg.Cycle(), t.seg.BaseIndex(), f.Index, f.Offset)
		t.off = e.Next
		t.next++
		return Record{Index: f.Index, Cycle: t.seg.Cycle(), Payload: payload}, true, nil
	}
}

// locateLocked maps the segment holding the cursor. found is false while the
// queue has no segments yet.
func (t *Tailer) locateLocked() (bool, error) {
	q := t.q
	if err := q.st.Refresh(false); err != nil {
		return false, wrapQueueErr("collect", ErrCorrupt, q.dir, nil, err)
	}
	if len(q.st.Segments()) == 0 {
		return false, nil
	}
	if lowest := q.st.Listing().LowestIndex(); t.next < lowest {
		return false, wrapQueueErr("collect", ErrPruned, q.dir, (&errorutil.Coordinates{}).WithIndex(t.next), nil)
	}
	info, ok := q.st.Find(t.next)
	if !ok {
		return false, wrapQueueErr("collect", ErrPruned, q.dir, (&errorutil.Coordinates{}).WithIndex(t.next), nil)
	}
	seg, err := segment.Open(info.Path, false, 0)
	if err != nil {
		return false, wrapQueueErr("collect", ErrIndexNotFound, q.dir, errorutil.At(info.Cycle(), 0).WithIndex(t.next), err)
	}
	t.seg = seg
	t.off = segment.FirstOffset()
	t.atEOF = false
	if off, _, ok := q.st.Hint(info.Cycle(), info.BaseIndex(), t.next); ok {
		t.off = off
	}
	return true, nil
}

// crossLocked moves a cursor parked on an EOF marker to the next segment.
// moved is false while the next segment has not been created yet.
func (t *Tailer) crossLocked() (bool, error) {
	q := t.q
	if err := q.st.Refresh(false); err != nil {
		return false, wrapQueueErr("collect", ErrCorrupt, q.dir, t.coords(), err)
	}
	info, ok := q.st.After(t.seg.Cycle())
	if !ok {
		return false, nil
	}
	// a lower base means the cursor is past the start of the segment; skip
	// forward in advanceLocked
	if info.BaseIndex() > t.next {
		return false, wrapQueueErr("collect", ErrIndexNotFound, q.dir, errorutil.At(info.Cycle(), 0).WithIndex(t.next), nil)
	}
	seg, err := segment.Open(info.Path, false, 0)
	if err != nil {
		return false, wrapQueueErr("collect", ErrIndexNotFound, q.dir, errorutil.At(info.Cycle(), 0).WithIndex(t.next), err)
	}
	_ = t.seg.Close()
	t.seg = seg
	t.off = segment.FirstOffset()
	t.atEOF = false
	if off, _, ok := q.st.Hint(info.Cycle(), info.BaseIndex(), t.next); ok {
		t.off = off
	}
	q.lg.Debug("tailer crossed segment", "dir", q.dir, "cycle", info.Cycle(), "index", t.next)
	return true, nil
}

func (t *Tailer) coords() *errorutil.Coordinates {
	if t.seg == nil {
		return (&errorutil.Coordinates{}).WithIndex(t.next)
	}
	return errorutil.At(t.seg.Cycle(), t.off).WithIndex(t.next)
}

// Close releases the tailer's mapping. Closing twice is a no-op.
func (t *Tailer) Close() error {
	err := t.release()
	t.q.tailersMu.Lock()
	delete(t.q.tailers, t)
	t.q.tailersMu.Unlock()
	return err
}

func (t *Tailer) release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.seg == nil {
		return nil
	}
	err := t.seg.Close()
	t.seg = nil
	return err
}
