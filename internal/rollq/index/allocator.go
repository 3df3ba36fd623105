package index

import (
	"math"
	"sync"
)

// Counter is the shared next-index cell, normally the queue listing.
type Counter interface {
	NextIndex() uint64
	SetNextIndex(next uint64)
}

// Locker serializes writers across processes.
type Locker interface {
	Lock() error
	Unlock() error
}

// Allocator hands out monotonically increasing record indexes shared by every
// writer of a queue. An index is only reserved while its Lease is held, so two
// writers can never commit the same index.
type Allocator struct {
	counter Counter
	locker  Locker
}

// NewAllocator builds an allocator over the given counter and lock.
func NewAllocator(counter Counter, locker Locker) *Allocator {
	return &Allocator{counter: counter, locker: locker}
}

// Lease is exclusive write access to the next index.
type Lease struct {
	a        *Allocator
	mu       sync.Mutex
	next     uint64
	released bool
}

// Acquire takes the writer lock and returns a lease on the next index.
func (a *Allocator) Acquire() (*Lease, error) {
	if err := a.locker.Lock(); err != nil {
		return nil, err
	}
	return &Lease{a: a, next: a.counter.NextIndex()}, nil
}

// Peek returns the next index without reserving it.
func (a *Allocator) Peek() uint64 {
	return a.counter.NextIndex()
}

// SetNext moves the counter forward. It must be called with the writer lock
// held, typically by recovery.
func (a *Allocator) SetNext(next uint64) error {
	have := a.counter.NextIndex()
	if next < have {
		return &IndexError{
			Err:  ErrIndexRegression,
			Have: next,
			Want: have,
		}
	}
	a.counter.SetNextIndex(next)
	return nil
}

// Index returns the index the holder of the lease will write next.
func (l *Lease) Index() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Observe advances the lease past an index found already committed on disk.
// This repairs a counter left behind by a writer that stopped between
// publishing a record and bumping the counter.
func (l *Lease) Observe(committed uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if committed != math.MaxUint64 && committed+1 > l.next {
		l.next = committed + 1
	}
}

// Commit publishes index as written and advances the shared counter.
func (l *Lease) Commit(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return &IndexError{Err: ErrLeaseReleased, Have: index, Want: l.next}
	}
	if index != l.next {
		return &IndexError{Err: ErrIndexMismatch, Have: index, Want: l.next}
	}
	if index == math.MaxUint64 {
		return &IndexError{Err: ErrIndexOverflow, Have: index, Want: l.next}
	}
	l.next = index + 1
	l.a.counter.SetNextIndex(l.next)
	return nil
}

// Sync writes the lease position back to the counter without committing a
// record. It is used after Observe repaired a stale counter.
func (l *Lease) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.released && l.next > l.a.counter.NextIndex() {
		l.a.counter.SetNextIndex(l.next)
	}
}

// Release drops the writer lock. Releasing twice is a no-op.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	return l.a.locker.Unlock()
}
