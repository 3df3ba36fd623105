package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/rollq/internal/logger"
	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/index"
	"github.com/julianstephens/rollq/internal/rollq/recovery"
	"github.com/julianstephens/rollq/internal/rollq/roll"
	"github.com/julianstephens/rollq/internal/rollq/store"
)

// State is the lifecycle state of a Queue handle.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// createRetries bounds how often Open retries when it loses a create race to
// another process that has not yet published its listing.
const (
	createRetries    = 5
	createRetryDelay = 10 * time.Millisecond
)

// Queue is a handle on one queue directory. Configure it, Open it, then
// Append and read through Tailers. A Queue is safe for concurrent use.
type Queue struct {
	dir  string
	opts rollq.Options
	lg   logger.Logger

	// mu guards the lifecycle and every mapping owned by the handle. Close
	// takes it exclusively; appends and tailer reads share it.
	mu      sync.RWMutex
	state   State
	version int
	create  bool
	scheme  roll.Scheme
	st      *store.Store
	alloc   *index.Allocator
	done    chan struct{}
	gen     uint64

	// writeMu serializes appenders of this handle; the listing lock
	// serializes them with other handles and processes.
	writeMu sync.Mutex
	w       *writer

	notifyMu sync.Mutex
	notify   chan struct{}

	tailersMu sync.Mutex
	tailers   map[*Tailer]struct{}

	errMu   sync.Mutex
	lastErr string
}

// New creates an unconfigured handle for dir with default options.
func New(dir string) *Queue {
	return NewWithOptions(dir, rollq.DefaultOptions(), nil)
}

// NewWithOptions creates an unconfigured handle for dir. Nothing touches the
// filesystem until Open.
func NewWithOptions(dir string, opts rollq.Options, lg logger.Logger) *Queue {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	return &Queue{
		dir:     dir,
		opts:    opts.WithDefaults(),
		lg:      lg,
		notify:  make(chan struct{}),
		tailers: make(map[*Tailer]struct{}),
	}
}

// Dir returns the queue directory.
func (q *Queue) Dir() string { return q.dir }

// SetVersion sets the format version used to create or check the queue.
func (q *Queue) SetVersion(v int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.configurableLocked("set_version"); err != nil {
		return err
	}
	q.version = v
	q.state = StateConfigured
	return nil
}

// SetCreate controls whether Open creates a missing queue.
func (q *Queue) SetCreate(create bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.configurableLocked("set_create"); err != nil {
		return err
	}
	q.create = create
	q.state = StateConfigured
	return nil
}

// SetRollScheme selects the roll scheme by name. An unknown name is rejected
// and the previous scheme is kept.
func (q *Queue) SetRollScheme(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.configurableLocked("set_roll_scheme"); err != nil {
		return err
	}
	s, err := roll.Lookup(name)
	if err != nil {
		return q.fail(wrapQueueErr("set_roll_scheme", ErrInvalidRollScheme, q.dir, nil, err))
	}
	q.scheme = s
	q.state = StateConfigured
	return nil
}

func (q *Queue) configurableLocked(op string) error {
	if q.state == StateOpen || q.state == StateClosed {
		return q.fail(wrapQueueErr(op, ErrConfigAfterOpen, q.dir, nil, nil))
	}
	return nil
}

// Version returns the configured version, or the persisted one once open.
func (q *Queue) Version() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.version
}

// RollScheme returns the configured scheme name, or the persisted one once open.
func (q *Queue) RollScheme() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.scheme.Name
}

// Create reports the create flag.
func (q *Queue) Create() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.create
}

// State returns the lifecycle state.
func (q *Queue) State() State {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// Open validates the configuration, finds or creates the queue on disk, runs
// recovery and makes the handle usable. On failure the handle stays
// configured and may be reconfigured and opened again.
func (q *Queue) Open() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case StateOpen:
		return q.fail(wrapQueueErr("open", ErrAlreadyOpen, q.dir, nil, nil))
	case StateClosed:
		return q.fail(wrapQueueErr("open", ErrNotOpen, q.dir, nil, nil))
	}

	if err := q.openLocked(); err != nil {
		q.state = StateConfigured
		return q.fail(err)
	}
	return nil
}

func (q *Queue) openLocked() error {
	if err := q.opts.Validate(); err != nil {
		return wrapQueueErr("open", ErrInvalidOptions, q.dir, nil, err)
	}
	if q.version != 0 && !rollq.SupportedVersion(q.version) {
		return wrapQueueErr("open", ErrUnsupportedVersion, q.dir, nil, fmt.Errorf("version %d", q.version))
	}

	if !helpers.Exists(q.dir) {
		if !q.create {
			return wrapQueueErr("open", ErrNotFound, q.dir, nil, nil)
		}
		if err := helpers.Ensure(q.dir, true); err != nil {
			return wrapQueueErr("open", ErrNotFound, q.dir, nil, err)
		}
	}

	st, err := q.openStore()
	if err != nil {
		return err
	}

	if q.version != 0 && q.version != st.Version() {
		_ = st.Close()
		return wrapQueueErr("open", ErrVersionMismatch, q.dir, nil,
			fmt.Errorf("configured %d, persisted %d", q.version, st.Version()))
	}
	if !q.scheme.IsZero() && q.scheme.Name != st.Scheme().Name {
		_ = st.Close()
		return wrapQueueErr("open", ErrRollSchemeMismatch, q.dir, nil,
			fmt.Errorf("configured %s, persisted %s", q.scheme.Name, st.Scheme().Name))
	}

	if err := st.Lock(); err != nil {
		_ = st.Close()
		return wrapQueueErr("open", ErrCorrupt, q.dir, nil, err)
	}
	res, err := recovery.Recover(st, q.lg)
	if uerr := st.Unlock(); err == nil && uerr != nil {
		err = uerr
	}
	if err != nil {
		_ = st.Close()
		return wrapQueueErr("open", ErrCorrupt, q.dir, nil, err)
	}

	q.st = st
	q.alloc = index.NewAllocator(st.Listing(), st)
	q.version = st.Version()
	q.scheme = st.Scheme()
	q.done = make(chan struct{})
	q.gen++
	q.state = StateOpen

	q.lg.Info(
		"queue opened",
		"dir", q.dir,
		"version", q.version,
		"roll_scheme", q.scheme.Name,
		"segments", res.Segments,
		"next_index", res.NextIndex,
		"recovery", res.TailStatus,
	)
	return nil
}

// openStore attaches to the queue in q.dir, creating it when allowed.
func (q *Queue) openStore() (*store.Store, error) {
	for attempt := 0; ; attempt++ {
		st, err := store.Open(q.dir, q.lg)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, store.ErrNoQueue) {
			return nil, wrapQueueErr("open", ErrCorrupt, q.dir, nil, err)
		}
		if !q.create {
			return nil, wrapQueueErr("open", ErrNotFound, q.dir, nil, err)
		}
		if attempt > 0 {
			if attempt >= createRetries {
				return nil, wrapQueueErr("open", ErrNotFound, q.dir, nil, err)
			}
			time.Sleep(createRetryDelay)
		}
		if q.version == 0 {
			return nil, wrapQueueErr("open", ErrUnsupportedVersion, q.dir, nil, errors.New("version required to create a queue"))
		}
		if q.scheme.IsZero() {
			return nil, wrapQueueErr("open", ErrInvalidRollScheme, q.dir, nil, errors.New("roll scheme required to create a queue"))
		}

		st, err = store.Create(q.dir, q.version, q.scheme, q.opts.Clock(), q.lg)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, store.ErrQueueExists) {
			return nil, wrapQueueErr("open", ErrCorrupt, q.dir, nil, err)
		}
		// another creator won; attach to its queue
	}
}

// Close releases every mapping of the handle and invalidates its tailers.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateOpen {
		return q.fail(wrapQueueErr("close", ErrNotOpen, q.dir, nil, nil))
	}

	close(q.done)

	q.tailersMu.Lock()
	tailers := make([]*Tailer, 0, len(q.tailers))
	for t := range q.tailers {
		tailers = append(tailers, t)
	}
	q.tailers = make(map[*Tailer]struct{})
	q.tailersMu.Unlock()
	for _, t := range tailers {
		t.release()
	}

	var errs []error
	q.writeMu.Lock()
	if q.w != nil {
		errs = append(errs, q.w.close())
		q.w = nil
	}
	q.writeMu.Unlock()
	errs = append(errs, q.st.Close())

	q.state = StateClosed
	q.lg.Info("queue closed", "dir", q.dir, "tailers", len(tailers))

	if err := errors.Join(errs...); err != nil {
		return q.fail(wrapQueueErr("close", ErrCorrupt, q.dir, nil, err))
	}
	return nil
}

// PruneBefore deletes segments whose cycle is below cycle. The newest segment
// is always kept. It returns the number of segments removed.
func (q *Queue) PruneBefore(cycle uint64) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.state != StateOpen {
		return 0, q.fail(wrapQueueErr("prune", ErrNotOpen, q.dir, nil, nil))
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if err := q.st.Lock(); err != nil {
		return 0, q.fail(wrapQueueErr("prune", ErrPruneFailed, q.dir, nil, err))
	}
	removed, err := q.st.PruneBefore(cycle)
	if uerr := q.st.Unlock(); err == nil && uerr != nil {
		err = uerr
	}
	if err != nil {
		return len(removed), q.fail(wrapQueueErr("prune", ErrPruneFailed, q.dir, nil, err))
	}
	return len(removed), nil
}

// LastError returns the message of the most recent failure on this handle or
// any of its tailers, or "" if none occurred.
func (q *Queue) LastError() string {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	return q.lastErr
}

// fail records err as the handle's last error and returns it.
func (q *Queue) fail(err error) error {
	if err == nil {
		return nil
	}
	q.errMu.Lock()
	q.lastErr = err.Error()
	q.errMu.Unlock()
	return err
}

// waitChan returns the channel closed by the next in-process append.
func (q *Queue) waitChan() <-chan struct{} {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	return q.notify
}

func (q *Queue) wake() {
	q.notifyMu.Lock()
	close(q.notify)
	q.notify = make(chan struct{})
	q.notifyMu.Unlock()
}
