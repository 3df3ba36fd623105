package queue

import (
	"fmt"
	"strings"

	"github.com/julianstephens/go-utils/generic"
)

// QueueInfo is a diagnostic snapshot of a Queue.
type QueueInfo struct {
	Dir          string
	State        State
	Version      int
	RollScheme   string
	ModCount     uint64
	HighestCycle uint64
	LowestCycle  uint64
	NextIndex    uint64
	LowestIndex  uint64
	Segments     []string
	Tailers      int
	LastError    string
}

func (i QueueInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "queue %s\n", i.Dir)
	fmt.Fprintf(&b, "  state:         %s\n", i.State)
	fmt.Fprintf(&b, "  version:       %d\n", i.Version)
	fmt.Fprintf(&b, "  roll scheme:   %s\n", generic.If(i.RollScheme == "", "(unset)", i.RollScheme))
	if i.State == StateOpen {
		fmt.Fprintf(&b, "  modcount:      %d\n", i.ModCount)
		fmt.Fprintf(&b, "  cycles:        %d..%d\n", i.LowestCycle, i.HighestCycle)
		fmt.Fprintf(&b, "  indexes:       %d..%d\n", i.LowestIndex, i.NextIndex)
		fmt.Fprintf(&b, "  tailers:       %d\n", i.Tailers)
		fmt.Fprintf(&b, "  segments:      %d\n", len(i.Segments))
		for _, s := range i.Segments {
			fmt.Fprintf(&b, "    %s\n", s)
		}
	}
	if i.LastError != "" {
		fmt.Fprintf(&b, "  last error:    %s\n", i.LastError)
	}
	return b.String()
}

// Peek returns a snapshot of the queue without changing it.
func (q *Queue) Peek() QueueInfo {
	q.mu.RLock()
	defer q.mu.RUnlock()

	info := QueueInfo{
		Dir:        q.dir,
		State:      q.state,
		Version:    q.version,
		RollScheme: q.scheme.Name,
		LastError:  q.LastError(),
	}
	if q.state != StateOpen {
		return info
	}

	_ = q.st.Refresh(false)
	lst := q.st.Listing()
	info.ModCount = lst.ModCount()
	info.HighestCycle = lst.HighestCycle()
	info.LowestCycle = lst.LowestCycle()
	info.NextIndex = lst.NextIndex()
	info.LowestIndex = lst.LowestIndex()
	for _, s := range q.st.Segments() {
		info.Segments = append(info.Segments, fmt.Sprintf("%s cycle=%d base=%d", s.Name, s.Cycle(), s.BaseIndex()))
	}
	q.tailersMu.Lock()
	info.Tailers = len(q.tailers)
	q.tailersMu.Unlock()
	return info
}

// TailerInfo is a diagnostic snapshot of a Tailer.
type TailerInfo struct {
	Index     uint64
	Segment   string
	Cycle     uint64
	Offset    int64
	AtEOF     bool
	Closed    bool
	QueueOpen bool
}

func (i TailerInfo) String() string {
	seg := generic.If(i.Segment == "", "(none)", i.Segment)
	return fmt.Sprintf("tailer index=%d segment=%s cycle=%d offset=%d eof=%t closed=%t queue_open=%t",
		i.Index, seg, i.Cycle, i.Offset, i.AtEOF, i.Closed, i.QueueOpen)
}

// Peek returns the tailer position without moving it.
func (t *Tailer) Peek() TailerInfo {
	q := t.q
	q.mu.RLock()
	open := q.state == StateOpen && q.gen == t.gen
	q.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	info := TailerInfo{
		Index:     t.next,
		Offset:    t.off,
		AtEOF:     t.atEOF,
		Closed:    t.closed,
		QueueOpen: open,
	}
	if t.seg != nil {
		info.Segment = t.seg.Path()
		info.Cycle = t.seg.Cycle()
	}
	return info
}
