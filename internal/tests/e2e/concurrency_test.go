package e2e_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/rollq/internal/rollq/queue"
	"github.com/julianstephens/rollq/internal/testutil"
)

// === Section A: writers in separate handles share one index sequence ===

// TestConcurrentAppenders_TwoHandles verifies N writers spread over two handles
// of the same directory produce N*M distinct, gap-free indexes and every
// payload exactly once.
func TestConcurrentAppenders_TwoHandles(t *testing.T) {
	dir := t.TempDir()
	opts := testutil.TestOptions(nil)
	q1 := testutil.OpenTestQueue(t, dir, "DAILY", opts)
	q2 := testutil.ReopenTestQueue(t, dir, opts)
	handles := []*queue.Queue{q1, q2}

	const writers = 6
	const perWriter = 50

	var mu sync.Mutex
	byIndex := make(map[uint64]string)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			q := handles[w%len(handles)]
			var last uint64
			for i := 0; i < perWriter; i++ {
				payload := fmt.Sprintf("w%d-%d", w, i)
				idx, err := q.Append([]byte(payload))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				if i > 0 && idx <= last {
					t.Errorf("writer %d saw index %d after %d", w, idx, last)
				}
				last = idx

				mu.Lock()
				if prev, dup := byIndex[idx]; dup {
					t.Errorf("index %d assigned to %s and %s", idx, prev, payload)
				}
				byIndex[idx] = payload
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	total := writers * perWriter
	tst.RequireDeepEqual(t, len(byIndex), total)

	// read back through the other handle
	tl, err := q2.Tailer(0)
	tst.RequireNoError(t, err)
	recs := testutil.CollectN(t, tl, total, 10*time.Second)
	for i, rec := range recs {
		tst.RequireDeepEqual(t, rec.Index, uint64(i))
		tst.RequireDeepEqual(t, string(rec.Payload), byIndex[rec.Index])
	}
}

// TestCrossHandleWakeup verifies a reader in one handle observes appends made
// through another handle by polling.
func TestCrossHandleWakeup(t *testing.T) {
	dir := t.TempDir()
	w := testutil.OpenTestQueue(t, dir, "DAILY", testutil.TestOptions(nil))
	r := testutil.ReopenTestQueue(t, dir, testutil.TestOptions(nil))

	tl, err := r.Tailer(0)
	tst.RequireNoError(t, err)

	got := make(chan queue.Record, 3)
	errs := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := 0; i < 3; i++ {
			rec, err := tl.Collect(ctx)
			if err != nil {
				errs <- err
				return
			}
			got <- rec
		}
	}()

	for _, p := range []string{"x", "y", "z"} {
		time.Sleep(5 * time.Millisecond)
		_, err := w.Append([]byte(p))
		tst.RequireNoError(t, err)
	}

	for i, want := range []string{"x", "y", "z"} {
		select {
		case rec := <-got:
			tst.RequireDeepEqual(t, rec.Index, uint64(i))
			tst.RequireDeepEqual(t, string(rec.Payload), want)
		case err := <-errs:
			t.Fatalf("collect failed: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatalf("record %d not observed", i)
		}
	}
}

// TestConcurrentRollover_TwoHandles verifies writers in two handles agree on
// segment rolls driven by a shared clock.
func TestConcurrentRollover_TwoHandles(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opts := testutil.TestOptions(clock)
	q1 := testutil.OpenTestQueue(t, dir, "TEST_SECONDLY", opts)
	q2 := testutil.ReopenTestQueue(t, dir, opts)

	const rounds = 5
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		for _, q := range []*queue.Queue{q1, q2} {
			wg.Add(1)
			go func(q *queue.Queue) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					if _, err := q.Append([]byte("r")); err != nil {
						t.Errorf("append: %v", err)
						return
					}
				}
			}(q)
		}
		wg.Wait()
		clock.Advance(time.Second)
	}

	tst.RequireDeepEqual(t, len(q1.Peek().Segments), rounds)

	tl, err := q1.Tailer(0)
	tst.RequireNoError(t, err)
	recs := testutil.CollectN(t, tl, rounds*20, 5*time.Second)
	for i, rec := range recs {
		tst.RequireDeepEqual(t, rec.Index, uint64(i))
	}
}
