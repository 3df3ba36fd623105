package queue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/julianstephens/rollq/internal/rollq"
)

// Subscription pumps records from a Tailer into a bounded channel on its own
// goroutine.
type Subscription struct {
	t       *Tailer
	ch      chan Record
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
	err     error
}

// Subscribe starts delivering records from start into a channel holding at
// most buffer records. The subscription ends when ctx is done, Stop is called
// or the queue closes; the channel is closed afterwards.
func (q *Queue) Subscribe(ctx context.Context, start uint64, buffer int) (*Subscription, error) {
	t, err := q.Tailer(start)
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = rollq.DefaultSubscribeBuf
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		t:      t,
		ch:     make(chan Record, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.pump(ctx)
	return s, nil
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Record { return s.ch }

// Stop ends the subscription. Records still buffered remain readable from C.
func (s *Subscription) Stop() {
	s.stopped.Store(true)
	s.cancel()
}

// Wait blocks until the pump has exited and returns why: nil after Stop, the
// context error when ctx ended, or the collect error otherwise.
func (s *Subscription) Wait() error {
	<-s.done
	return s.err
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	defer func() { _ = s.t.Close() }()

	for {
		rec, err := s.t.Collect(ctx)
		if err != nil {
			s.err = s.reason(ctx, err)
			return
		}
		select {
		case s.ch <- rec:
		case <-ctx.Done():
			s.err = s.reason(ctx, nil)
			return
		case <-s.t.done:
			s.err = s.reason(ctx, wrapQueueErr("collect", ErrNotOpen, s.t.q.dir, nil, nil))
			return
		}
	}
}

func (s *Subscription) reason(ctx context.Context, err error) error {
	if s.stopped.Load() {
		return nil
	}
	if ctx.Err() != nil && (err == nil || errors.Is(err, ErrNoData)) {
		return ctx.Err()
	}
	return err
}

// Control is returned by a Handler to steer dispatch.
type Control int

const (
	Continue Control = iota
	Stop
)

// Handler receives one record at a time, in index order.
type Handler func(Record) Control

// Dispatcher calls a Handler for every record of a Subscription on a goroutine
// of its own. The handler never runs concurrently with itself.
type Dispatcher struct {
	sub  *Subscription
	done chan struct{}
	err  error
}

// Dispatch starts calling h for each record from start.
func (q *Queue) Dispatch(ctx context.Context, start uint64, h Handler) (*Dispatcher, error) {
	sub, err := q.Subscribe(ctx, start, rollq.DefaultSubscribeBuf)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{sub: sub, done: make(chan struct{})}
	go d.run(h)
	return d, nil
}

func (d *Dispatcher) run(h Handler) {
	defer close(d.done)
	for rec := range d.sub.C() {
		if h(rec) == Stop {
			d.sub.Stop()
			break
		}
	}
	d.err = d.sub.Wait()
}

// Stop ends dispatch after the handler call in flight, if any, returns.
func (d *Dispatcher) Stop() { d.sub.Stop() }

// Wait blocks until dispatch has ended and returns the reason, nil when the
// handler or Stop ended it.
func (d *Dispatcher) Wait() error {
	<-d.done
	return d.err
}
