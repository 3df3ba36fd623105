package recovery

import (
	"github.com/julianstephens/go-utils/generic"
	"github.com/julianstephens/go-utils/validator"

	"github.com/julianstephens/rollq/internal/logger"
	"github.com/julianstephens/rollq/internal/rollq/errorutil"
	"github.com/julianstephens/rollq/internal/rollq/segment"
	"github.com/julianstephens/rollq/internal/rollq/store"
)

type TailStatus int

const (
	// TailStatusValid indicates the listing already matched the segment files.
	TailStatusValid TailStatus = iota
	// TailStatusRepaired indicates recovery rewrote counters or patched a missing EOF.
	TailStatusRepaired
	// TailStatusCorrupt indicates an undecodable frame or an index gap was found.
	TailStatusCorrupt
	// TailStatusEmpty indicates the queue has no segments yet.
	TailStatusEmpty
)

func (ts TailStatus) String() string {
	switch ts {
	case TailStatusValid:
		return "valid"
	case TailStatusRepaired:
		return "repaired"
	case TailStatusCorrupt:
		return "corrupt"
	case TailStatusEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result summarizes the state recovery left the queue in.
type Result struct {
	Segments     int
	NextIndex    uint64
	LowestIndex  uint64
	LowestCycle  uint64
	HighestCycle uint64
	// TailOffset is the first free slot of the last segment.
	TailOffset int64
	// TailEOF reports that the last segment already ends in an EOF marker.
	TailEOF    bool
	PatchedEOF []string
	TailStatus TailStatus
}

// Recover reconciles the listing of st with the segment files on disk. It
// patches a missing EOF on any segment other than the last (left by an
// interrupted roll), checks that each segment continues the index sequence of
// the one before it, scans the last segment for records committed after the
// counter was last updated, and rewrites the listing counters to match.
//
// The caller must hold the writer lock.
func Recover(st *store.Store, lg logger.Logger) (*Result, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	res := &Result{}

	if err := st.Refresh(true); err != nil {
		res.TailStatus = TailStatusCorrupt
		return res, &RecoveryError{Kind: RecoverySegmentOpen, Path: st.Dir(), Cause: err}
	}
	segs := st.Segments()
	res.Segments = len(segs)
	lst := st.Listing()

	if len(segs) == 0 {
		res.NextIndex = lst.NextIndex()
		res.LowestIndex = lst.NextIndex()
		res.TailStatus = TailStatusEmpty
		lg.Info("queue recovery complete", "dir", st.Dir(), "status", res.TailStatus, "next_index", res.NextIndex)
		return res, nil
	}

	if err := validateSegments(segs); err != nil {
		lg.Error("segment validation failed", err, "dir", st.Dir())
		res.TailStatus = TailStatusCorrupt
		return res, err
	}

	repaired := false
	last := segs[len(segs)-1]

	for i := 0; i < len(segs)-1; i++ {
		cur, following := segs[i], segs[i+1]
		sc, err := scanSegment(st, cur, true)
		if err != nil {
			res.TailStatus = TailStatusCorrupt
			return res, err
		}
		want := generic.If(sc.count > 0, sc.last+1, cur.BaseIndex())
		if want != following.BaseIndex() {
			res.TailStatus = TailStatusCorrupt
			return res, &RecoveryError{
				Kind:        RecoveryIndexGap,
				Path:        following.Path,
				Coordinates: errorutil.At(following.Cycle(), segment.FirstOffset()).WithIndex(want),
			}
		}
		if sc.patched {
			lg.Warn("patched missing segment end", "path", cur.Path, "offset", sc.tip)
			res.PatchedEOF = append(res.PatchedEOF, cur.Name)
			repaired = true
		}
	}

	sc, err := scanSegment(st, last, false)
	if err != nil {
		res.TailStatus = TailStatusCorrupt
		return res, err
	}
	res.TailOffset = sc.tip
	res.TailEOF = sc.eof

	next := generic.If(sc.count > 0, sc.last+1, last.BaseIndex())
	res.NextIndex = next
	res.LowestIndex = segs[0].BaseIndex()
	res.LowestCycle = segs[0].Cycle()
	res.HighestCycle = last.Cycle()

	if have := lst.NextIndex(); have != next {
		lg.Warn("next index out of step with segment data", "dir", st.Dir(), "listing", have, "data", next)
		lst.SetNextIndex(next)
		repaired = true
	}
	changed := false
	if lst.LowestIndex() != res.LowestIndex {
		lst.SetLowestIndex(res.LowestIndex)
		changed = true
	}
	if lst.LowestCycle() != res.LowestCycle {
		lst.SetLowestCycle(res.LowestCycle)
		changed = true
	}
	if lst.HighestCycle() != res.HighestCycle {
		lst.SetHighestCycle(res.HighestCycle)
		changed = true
	}
	if changed {
		lst.BumpModCount()
		repaired = true
	}

	res.TailStatus = generic.If(repaired, TailStatusRepaired, TailStatusValid)
	lg.Info(
		"queue recovery complete",
		"dir",
		st.Dir(),
		"status",
		res.TailStatus,
		"segments",
		res.Segments,
		"next_index",
		res.NextIndex,
		"lowest_index",
		res.LowestIndex,
		"tail_offset",
		res.TailOffset,
	)
	return res, nil
}

type scanResult struct {
	tip     int64
	last    uint64
	count   uint64
	eof     bool
	patched bool
}

// scanSegment walks every frame of info checking that indexes are consecutive
// from the segment base. With patch set, a segment that does not end in EOF
// gets one written at its tip.
func scanSegment(st *store.Store, info store.SegmentInfo, patch bool) (scanResult, error) {
	var res scanResult
	seg, err := segment.Open(info.Path, patch, 0)
	if err != nil {
		return res, &RecoveryError{
			Kind:        RecoverySegmentOpen,
			Path:        info.Path,
			Coordinates: errorutil.At(info.Cycle(), 0),
			Cause:       err,
		}
	}

	v := validator.Numbers[uint64]()
	off := segment.FirstOffset()
	for {
		e, err := seg.Read(off)
		if err != nil {
			_ = seg.Close()
			return res, &RecoveryError{
				Kind:        RecoveryCorrupt,
				Path:        info.Path,
				Coordinates: errorutil.At(info.Cycle(), off),
				Cause:       err,
			}
		}
		if e.Kind == segment.EntryEmpty || e.Kind == segment.EntryEOF {
			res.eof = e.Kind == segment.EntryEOF
			break
		}
		if e.Kind == segment.EntryData {
			idx := e.Frame.Index
			var gap error
			if res.count == 0 {
				if idx != info.BaseIndex() {
					gap = ErrIndexGap
				}
			} else {
				gap = v.ValidateConsecutive(res.last, idx)
			}
			if gap != nil {
				_ = seg.Close()
				return res, &RecoveryError{
					Kind:        RecoveryIndexGap,
					Path:        info.Path,
					Coordinates: errorutil.At(info.Cycle(), off).WithIndex(idx),
					Cause:       gap,
				}
			}
			st.Remember(info.Cycle(), info.BaseIndex(), idx, off)
			res.last = idx
			res.count++
		}
		off = e.Next
	}
	res.tip = off

	if patch && !res.eof {
		if err := seg.WriteEOF(off); err != nil {
			_ = seg.Close()
			return res, &RecoveryError{
				Kind:        RecoveryPatch,
				Path:        info.Path,
				Coordinates: errorutil.At(info.Cycle(), off),
				Cause:       err,
			}
		}
		res.eof = true
		res.patched = true
	}

	if err := seg.Close(); err != nil {
		return res, &RecoveryError{
			Kind:        RecoverySegmentClose,
			Path:        info.Path,
			Coordinates: errorutil.At(info.Cycle(), off),
			Cause:       err,
		}
	}
	return res, nil
}

// validateSegments checks that cycles strictly increase and base indexes never
// go backwards across the segment list.
func validateSegments(segs []store.SegmentInfo) error {
	for i := 1; i < len(segs); i++ {
		prev, cur := segs[i-1], segs[i]
		if cur.Cycle() <= prev.Cycle() || cur.BaseIndex() < prev.BaseIndex() {
			return &RecoveryError{
				Kind:        RecoverySegmentOrder,
				Path:        cur.Path,
				Coordinates: errorutil.At(cur.Cycle(), 0).WithIndex(cur.BaseIndex()),
			}
		}
	}
	return nil
}
