package queue_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/rollq/internal/rollq/queue"
	"github.com/julianstephens/rollq/internal/rollq/roll"
	"github.com/julianstephens/rollq/internal/testutil"
)

// rolledQueue builds a TEST_SECONDLY queue with records a,b in the first
// cycle, c one second later and d three seconds after that.
func rolledQueue(t *testing.T) (*queue.Queue, *testutil.ManualClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewManualClock(testStart)
	q := testutil.OpenTestQueue(t, dir, "TEST_SECONDLY", testutil.TestOptions(clock))
	testutil.AppendAll(t, q, "a", "b")
	clock.Advance(time.Second)
	testutil.AppendAll(t, q, "c")
	clock.Advance(3 * time.Second)
	testutil.AppendAll(t, q, "d")
	return q, clock, dir
}

func secondly(t *testing.T) roll.Scheme {
	t.Helper()
	s, err := roll.Lookup("TEST_SECONDLY")
	tst.RequireNoError(t, err)
	return s
}

// TestRollover_TransparentToReaders tests reading straight across rolled segments
func TestRollover_TransparentToReaders(t *testing.T) {
	q, clock, _ := rolledQueue(t)
	s := secondly(t)
	c0 := s.Cycle(testStart)

	// a clock that goes backwards keeps writing to the newest cycle
	clock.Set(testStart)
	idx, err := q.Append([]byte("e"))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, idx, uint64(4))
	tst.RequireDeepEqual(t, len(q.Peek().Segments), 3)

	tl, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	recs := testutil.CollectN(t, tl, 5, time.Second)
	wantCycles := []uint64{c0, c0, c0 + 1, c0 + 4, c0 + 4}
	for i, want := range []string{"a", "b", "c", "d", "e"} {
		tst.RequireDeepEqual(t, recs[i].Index, uint64(i))
		tst.RequireDeepEqual(t, string(recs[i].Payload), want)
		tst.RequireDeepEqual(t, recs[i].Cycle, wantCycles[i])
	}
}

// TestRollover_WhileTailerWaits tests a tailer parked at the tip follows a roll
func TestRollover_WhileTailerWaits(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.NewManualClock(testStart)
	q := testutil.OpenTestQueue(t, dir, "TEST_SECONDLY", testutil.TestOptions(clock))
	testutil.AppendAll(t, q, "a")

	tl, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	testutil.CollectN(t, tl, 1, time.Second)
	_, ok, err := tl.TryCollect()
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, ok, "nothing past the tip yet")

	clock.Advance(2 * time.Second)
	testutil.AppendAll(t, q, "b")

	recs := testutil.CollectN(t, tl, 1, time.Second)
	tst.RequireDeepEqual(t, recs[0].Index, uint64(1))
	tst.RequireDeepEqual(t, string(recs[0].Payload), "b")
	tst.RequireDeepEqual(t, recs[0].Cycle, secondly(t).Cycle(testStart)+2)

	_, err = os.Stat(filepath.Join(dir, secondly(t).FileName(recs[0].Cycle)))
	tst.RequireNoError(t, err)
}

// TestRollover_TailerAheadOfTip tests a tailer started past the tip follows
// a roll that happens before its start index is written
func TestRollover_TailerAheadOfTip(t *testing.T) {
	clock := testutil.NewManualClock(testStart)
	q := testutil.OpenTestQueue(t, t.TempDir(), "TEST_SECONDLY", testutil.TestOptions(clock))
	testutil.AppendAll(t, q, "a")

	tl, err := q.Tailer(2)
	tst.RequireNoError(t, err)
	_, ok, err := tl.TryCollect()
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, ok, "index 2 not written yet")

	clock.Advance(2 * time.Second)
	testutil.AppendAll(t, q, "b", "c")

	recs := testutil.CollectN(t, tl, 1, time.Second)
	tst.RequireDeepEqual(t, recs[0].Index, uint64(2))
	tst.RequireDeepEqual(t, string(recs[0].Payload), "c")

	// and again across a second roll with the cursor still ahead
	tl2, err := q.Tailer(5)
	tst.RequireNoError(t, err)
	_, ok, err = tl2.TryCollect()
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, ok, "index 5 not written yet")
	clock.Advance(2 * time.Second)
	testutil.AppendAll(t, q, "d")
	clock.Advance(2 * time.Second)
	testutil.AppendAll(t, q, "e", "f")

	recs = testutil.CollectN(t, tl2, 1, time.Second)
	tst.RequireDeepEqual(t, recs[0].Index, uint64(5))
	tst.RequireDeepEqual(t, string(recs[0].Payload), "f")
}

// TestTailer_ExplicitStart tests starting mid-queue and ahead of the tip
func TestTailer_ExplicitStart(t *testing.T) {
	q, _, _ := rolledQueue(t)

	tl, err := q.Tailer(2)
	tst.RequireNoError(t, err)
	recs := testutil.CollectN(t, tl, 2, time.Second)
	tst.RequireDeepEqual(t, string(recs[0].Payload), "c")
	tst.RequireDeepEqual(t, string(recs[1].Payload), "d")

	ahead, err := q.Tailer(6)
	tst.RequireNoError(t, err)
	testutil.AppendAll(t, q, "e", "f", "g")
	recs = testutil.CollectN(t, ahead, 1, time.Second)
	tst.RequireDeepEqual(t, recs[0].Index, uint64(6))
	tst.RequireDeepEqual(t, string(recs[0].Payload), "g")
}

// TestTailer_Independent tests two tailers see identical records
func TestTailer_Independent(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	testutil.AppendAll(t, q, "one", "two")

	t1, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	t2, err := q.Tailer(0)
	tst.RequireNoError(t, err)

	first := testutil.CollectN(t, t1, 2, time.Second)
	second := testutil.CollectN(t, t2, 2, time.Second)
	tst.RequireDeepEqual(t, first, second)

	first[0].Payload[0] = 'X'
	tst.RequireDeepEqual(t, string(second[0].Payload), "one")
	tst.RequireDeepEqual(t, t1.Index(), uint64(2))
}

// TestTailer_CollectTimeout tests a context deadline yields ErrNoData
func TestTailer_CollectTimeout(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	tl, err := q.Tailer(0)
	tst.RequireNoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tl.Collect(ctx)
	tst.AssertTrue(t, errors.Is(err, queue.ErrNoData), "expected no data")
	tst.RequireDeepEqual(t, queue.Code(err), queue.StatusNoData)

	var qe *queue.QueueError
	tst.AssertTrue(t, errors.As(err, &qe), "expected QueueError")
	tst.AssertTrue(t, errors.Is(qe.CauseErr(), context.DeadlineExceeded), "cause should be the deadline")
}

// TestTailer_Close tests a closed tailer rejects further collects
func TestTailer_Close(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	testutil.AppendAll(t, q, "a")
	tl, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	testutil.CollectN(t, tl, 1, time.Second)
	tst.RequireDeepEqual(t, q.Peek().Tailers, 1)

	tst.RequireNoError(t, tl.Close())
	tst.RequireNoError(t, tl.Close())
	_, _, err = tl.TryCollect()
	tst.AssertTrue(t, errors.Is(err, queue.ErrTailerClosed), "expected tailer closed")
	tst.RequireDeepEqual(t, q.Peek().Tailers, 0)
}

// TestPrune_OldIndexesReportPruned tests pruning and the pruned read path
func TestPrune_OldIndexesReportPruned(t *testing.T) {
	q, _, dir := rolledQueue(t)
	s := secondly(t)
	c0 := s.Cycle(testStart)

	removed, err := q.PruneBefore(c0 + 4)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, removed, 2)
	_, err = os.Stat(filepath.Join(dir, s.FileName(c0)))
	tst.AssertTrue(t, os.IsNotExist(err), "oldest segment should be gone")

	info := q.Peek()
	tst.RequireDeepEqual(t, info.LowestIndex, uint64(3))
	tst.RequireDeepEqual(t, info.LowestCycle, c0+4)

	old, err := q.Tailer(1)
	tst.RequireNoError(t, err)
	_, _, err = old.TryCollect()
	tst.AssertTrue(t, errors.Is(err, queue.ErrPruned), "expected pruned")
	tst.RequireDeepEqual(t, queue.Code(err), queue.StatusPruned)

	fromStart, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	recs := testutil.CollectN(t, fromStart, 1, time.Second)
	tst.RequireDeepEqual(t, recs[0].Index, uint64(3))
	tst.RequireDeepEqual(t, string(recs[0].Payload), "d")

	removed, err = q.PruneBefore(c0 + 100)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, removed, 0)
}

// TestTailer_MissingSegment tests a hole in the segment list reports IndexNotFound
func TestTailer_MissingSegment(t *testing.T) {
	q, _, dir := rolledQueue(t)
	s := secondly(t)
	tst.RequireNoError(t, os.Remove(filepath.Join(dir, s.FileName(s.Cycle(testStart)+1))))

	tl, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	testutil.CollectN(t, tl, 2, time.Second)
	_, _, err = tl.TryCollect()
	tst.AssertTrue(t, errors.Is(err, queue.ErrIndexNotFound), "expected index not found")
	tst.AssertTrue(t, errors.Is(err, queue.ErrPruned), "index not found should match pruned")
	tst.RequireDeepEqual(t, queue.Code(err), queue.StatusIndexNotFound)
}

// TestSubscribe_DeliversInOrder tests the bounded channel hand-off
func TestSubscribe_DeliversInOrder(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	testutil.AppendAll(t, q, "0", "1", "2")

	sub, err := q.Subscribe(context.Background(), 0, 2)
	tst.RequireNoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		testutil.AppendAll(t, q, "3", "4")
	}()

	for i := 0; i < 5; i++ {
		select {
		case rec := <-sub.C():
			tst.RequireDeepEqual(t, rec.Index, uint64(i))
		case <-time.After(5 * time.Second):
			t.Fatalf("record %d not delivered", i)
		}
	}
	sub.Stop()
	tst.RequireNoError(t, sub.Wait())

	for range sub.C() {
	}
}

// TestSubscribe_ContextCancel tests a cancelled context ends the subscription
func TestSubscribe_ContextCancel(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := q.Subscribe(ctx, 0, 0)
	tst.RequireNoError(t, err)

	cancel()
	err = sub.Wait()
	tst.AssertTrue(t, errors.Is(err, context.Canceled), "expected context cancellation")
	_, open := <-sub.C()
	tst.AssertFalse(t, open, "channel should be closed")
}

// TestDispatch_HandlerStops tests the handler can end dispatch
func TestDispatch_HandlerStops(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	testutil.AppendAll(t, q, "a", "b", "c", "d")

	var mu sync.Mutex
	var got []string
	inFlight := 0
	overlapped := false
	d, err := q.Dispatch(context.Background(), 0, func(rec queue.Record) queue.Control {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlapped = true
		}
		got = append(got, string(rec.Payload))
		n := len(got)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		if n == 3 {
			return queue.Stop
		}
		return queue.Continue
	})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, d.Wait())

	mu.Lock()
	defer mu.Unlock()
	tst.RequireDeepEqual(t, got, []string{"a", "b", "c"})
	tst.AssertFalse(t, overlapped, "handler ran concurrently with itself")
}

// TestDispatch_QueueClose tests dispatch ends with NotOpen when the queue closes
func TestDispatch_QueueClose(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	d, err := q.Dispatch(context.Background(), 0, func(queue.Record) queue.Control {
		return queue.Continue
	})
	tst.RequireNoError(t, err)

	time.Sleep(10 * time.Millisecond)
	tst.RequireNoError(t, q.Close())

	done := make(chan error, 1)
	go func() { done <- d.Wait() }()
	select {
	case err := <-done:
		tst.AssertTrue(t, errors.Is(err, queue.ErrNotOpen), "expected not open")
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not stop on close")
	}
}

// TestSubscribe_QueueCloseWithFullBuffer tests an undrained subscription
// still ends when the queue closes
func TestSubscribe_QueueCloseWithFullBuffer(t *testing.T) {
	q := testutil.OpenTestQueue(t, t.TempDir(), "DAILY", testutil.TestOptions(nil))
	testutil.AppendAll(t, q, "a", "b", "c")

	sub, err := q.Subscribe(context.Background(), 0, 1)
	tst.RequireNoError(t, err)
	time.Sleep(20 * time.Millisecond)
	tst.RequireNoError(t, q.Close())

	done := make(chan error, 1)
	go func() { done <- sub.Wait() }()
	select {
	case err := <-done:
		tst.AssertTrue(t, errors.Is(err, queue.ErrNotOpen), "expected not open")
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop on close")
	}

	n := 0
	for range sub.C() {
		n++
	}
	tst.AssertTrue(t, n <= 1, "only the buffered record remains")
}

// TestPeek_Dumps tests the diagnostic snapshots
func TestPeek_Dumps(t *testing.T) {
	q, _, _ := rolledQueue(t)
	info := q.Peek()
	tst.RequireDeepEqual(t, info.State, queue.StateOpen)
	tst.RequireDeepEqual(t, info.NextIndex, uint64(4))
	tst.RequireDeepEqual(t, len(info.Segments), 3)
	tst.AssertGreaterThan(t, info.ModCount, uint64(0), "segments bump the modcount")

	dump := info.String()
	tst.AssertTrue(t, strings.Contains(dump, "TEST_SECONDLY"), "dump should name the scheme")
	tst.AssertTrue(t, strings.Contains(dump, "indexes:       0..4"), "dump should show the index range")

	tl, err := q.Tailer(0)
	tst.RequireNoError(t, err)
	testutil.CollectN(t, tl, 3, time.Second)
	ti := tl.Peek()
	tst.RequireDeepEqual(t, ti.Index, uint64(3))
	tst.AssertTrue(t, ti.QueueOpen, "queue should be open")
	tst.AssertTrue(t, strings.Contains(ti.String(), "index=3"), "tailer dump should show the cursor")

	closed := queue.New(t.TempDir())
	tst.AssertTrue(t, strings.Contains(closed.Peek().String(), "(unset)"), "unconfigured dump")
}
