package index_test

import (
	"errors"
	"sync"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/rollq/internal/rollq/index"
)

type memCounter struct {
	mu   sync.Mutex
	next uint64
}

func (c *memCounter) NextIndex() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *memCounter) SetNextIndex(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = n
}

type mutexLocker struct {
	mu    sync.Mutex
	locks int
}

func (l *mutexLocker) Lock() error   { l.mu.Lock(); l.locks++; return nil }
func (l *mutexLocker) Unlock() error { l.mu.Unlock(); return nil }

// TestLease_CommitAdvances tests that committing advances the shared counter
func TestLease_CommitAdvances(t *testing.T) {
	c := &memCounter{next: 5}
	a := index.NewAllocator(c, &mutexLocker{})

	l, err := a.Acquire()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, l.Index(), uint64(5))

	tst.RequireNoError(t, l.Commit(5))
	tst.RequireNoError(t, l.Commit(6))
	tst.RequireDeepEqual(t, a.Peek(), uint64(7))
	tst.RequireNoError(t, l.Release())
	tst.RequireNoError(t, l.Release())

	err = l.Commit(7)
	tst.AssertTrue(t, errors.Is(err, index.ErrLeaseReleased), "expected released lease error")
}

// TestLease_CommitMismatch tests that only the leased index may be committed
func TestLease_CommitMismatch(t *testing.T) {
	a := index.NewAllocator(&memCounter{}, &mutexLocker{})
	l, err := a.Acquire()
	tst.RequireNoError(t, err)
	defer func() { _ = l.Release() }()

	err = l.Commit(3)
	var ie *index.IndexError
	tst.AssertTrue(t, errors.As(err, &ie), "expected IndexError")
	tst.RequireDeepEqual(t, ie.Err, index.ErrIndexMismatch)
	tst.RequireDeepEqual(t, ie.Want, uint64(0))
}

// TestLease_Observe tests repair of a counter behind committed data
func TestLease_Observe(t *testing.T) {
	c := &memCounter{next: 3}
	a := index.NewAllocator(c, &mutexLocker{})
	l, err := a.Acquire()
	tst.RequireNoError(t, err)
	defer func() { _ = l.Release() }()

	l.Observe(1)
	tst.RequireDeepEqual(t, l.Index(), uint64(3))
	l.Observe(4)
	tst.RequireDeepEqual(t, l.Index(), uint64(5))
	tst.RequireDeepEqual(t, c.NextIndex(), uint64(3))

	l.Sync()
	tst.RequireDeepEqual(t, c.NextIndex(), uint64(5))
}

// TestAllocator_SetNext_TableDriven tests SetNext rejects regressions
func TestAllocator_SetNext_TableDriven(t *testing.T) {
	testCases := []struct {
		name    string
		start   uint64
		next    uint64
		wantErr error
	}{
		{name: "Forward", start: 10, next: 20},
		{name: "Same", start: 10, next: 10},
		{name: "Backward", start: 10, next: 9, wantErr: index.ErrIndexRegression},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &memCounter{next: tc.start}
			a := index.NewAllocator(c, &mutexLocker{})
			err := a.SetNext(tc.next)
			if tc.wantErr != nil {
				tst.AssertTrue(t, errors.Is(err, tc.wantErr), "unexpected error")
				tst.RequireDeepEqual(t, c.NextIndex(), tc.start)
				return
			}
			tst.RequireNoError(t, err)
			tst.RequireDeepEqual(t, c.NextIndex(), tc.next)
		})
	}
}

// TestAllocator_ConcurrentLeases tests that concurrent writers never share an index
func TestAllocator_ConcurrentLeases(t *testing.T) {
	c := &memCounter{}
	a := index.NewAllocator(c, &mutexLocker{})

	const writers = 8
	const perWriter = 100
	seen := make(chan uint64, writers*perWriter)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l, err := a.Acquire()
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				idx := l.Index()
				if err := l.Commit(idx); err != nil {
					t.Errorf("commit: %v", err)
				}
				_ = l.Release()
				seen <- idx
			}
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[uint64]bool)
	for idx := range seen {
		tst.AssertFalse(t, got[idx], "index handed out twice")
		got[idx] = true
	}
	tst.RequireDeepEqual(t, len(got), writers*perWriter)
	tst.RequireDeepEqual(t, a.Peek(), uint64(writers*perWriter))
}
