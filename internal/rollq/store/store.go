package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/rollq/internal/logger"
	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/roll"
	"github.com/julianstephens/rollq/internal/rollq/segment"
)

// SegmentInfo identifies a segment file discovered in the queue directory.
type SegmentInfo struct {
	Name   string
	Path   string
	Header segment.Header
}

func (i SegmentInfo) Cycle() uint64     { return i.Header.Cycle }
func (i SegmentInfo) BaseIndex() uint64 { return i.Header.BaseIndex }

// Store owns the directory-level state of a queue: its listing file, its
// configuration and a cached, cycle-ordered view of its segment files.
type Store struct {
	dir     string
	version int
	scheme  roll.Scheme
	listing *Listing
	lg      logger.Logger

	mu      sync.Mutex
	segs    []SegmentInfo // sorted by cycle
	seenMod uint64
	loaded  bool
	// sparse maps cycle -> record index -> frame offset for every
	// IndexSpacing-th record seen by a scan.
	sparse map[uint64]map[uint64]int64
	closed bool
}

// Detect returns the format version of the queue in dir, judged by which
// listing file is present.
func Detect(dir string) (int, error) {
	v4 := helpers.Exists(filepath.Join(dir, rollq.ListingFileV4))
	v5 := helpers.Exists(filepath.Join(dir, rollq.ListingFileV5))
	switch {
	case v4 && v5:
		return 0, wrapStoreErr("detect", ErrAmbiguousVersion, dir, 0, nil)
	case v5:
		return rollq.Version5, nil
	case v4:
		return rollq.Version4, nil
	default:
		return 0, wrapStoreErr("detect", ErrNoQueue, dir, 0, nil)
	}
}

// Create initializes a new queue in dir. The directory must not already hold one.
func Create(dir string, version int, scheme roll.Scheme, now time.Time, lg logger.Logger) (*Store, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	if _, err := Detect(dir); err == nil {
		return nil, wrapStoreErr("create", ErrQueueExists, dir, 0, nil)
	}

	if err := CreateManifest(dir, NewManifest(version, scheme, now)); err != nil {
		if !errors.Is(err, ErrManifestAlreadyExists) {
			return nil, wrapStoreErr("create", ErrListingCreate, dir, 0, err)
		}
		// A manifest without a listing is a create that crashed or is still in
		// flight. Finish it if it describes the same queue; the listing link
		// decides between racing creators.
		m, rerr := ReadManifest(dir)
		if rerr != nil || m.Version != version || m.RollScheme != scheme.Name {
			return nil, wrapStoreErr("create", ErrQueueExists, dir, 0, err)
		}
	}

	listing, err := CreateListing(filepath.Join(dir, rollq.ListingFileName(version)), version, scheme.Name)
	if err != nil {
		return nil, err
	}

	lg.Info("queue created", "dir", dir, "version", version, "roll_scheme", scheme.Name)
	return newStore(dir, version, scheme, listing, lg), nil
}

// Open attaches to the existing queue in dir.
func Open(dir string, lg logger.Logger) (*Store, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	version, err := Detect(dir)
	if err != nil {
		return nil, err
	}

	listing, err := OpenListing(filepath.Join(dir, rollq.ListingFileName(version)))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Store, error) {
		_ = listing.Close()
		return nil, err
	}

	if listing.Version() != version {
		return fail(wrapStoreErr("open", ErrVersionMismatch, dir, 0, nil))
	}
	scheme, err := roll.Lookup(listing.SchemeName())
	if err != nil {
		return fail(wrapStoreErr("open", ErrListingCorrupt, dir, 0, err))
	}

	m, err := ReadManifest(dir)
	switch {
	case errors.Is(err, ErrManifestNotFound):
		lg.Warn("queue manifest missing; using listing", "dir", dir)
	case err != nil:
		return fail(wrapStoreErr("open", ErrListingCorrupt, dir, 0, err))
	case m.Version != version:
		return fail(wrapStoreErr("open", ErrVersionMismatch, dir, 0, nil))
	case m.RollScheme != scheme.Name:
		return fail(wrapStoreErr("open", ErrSchemeMismatch, dir, 0, nil))
	}

	return newStore(dir, version, scheme, listing, lg), nil
}

func newStore(dir string, version int, scheme roll.Scheme, listing *Listing, lg logger.Logger) *Store {
	return &Store{
		dir:     dir,
		version: version,
		scheme:  scheme,
		listing: listing,
		lg:      lg,
		sparse:  make(map[uint64]map[uint64]int64),
	}
}

func (s *Store) Dir() string         { return s.dir }
func (s *Store) Version() int        { return s.version }
func (s *Store) Scheme() roll.Scheme { return s.scheme }
func (s *Store) Listing() *Listing   { return s.listing }
func (s *Store) Lock() error         { return s.listing.Lock() }
func (s *Store) Unlock() error       { return s.listing.Unlock() }

// SegmentPath joins name onto the queue directory.
func (s *Store) SegmentPath(name string) string { return filepath.Join(s.dir, name) }

// Refresh rescans the directory if the listing modcount moved since the last
// scan, or unconditionally when force is set.
func (s *Store) Refresh(force bool) error {
	mod := s.listing.ModCount()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapStoreErr("refresh", ErrClosed, s.dir, 0, nil)
	}
	if s.loaded && !force && mod == s.seenMod {
		return nil
	}

	segs, err := s.scanLocked()
	if err != nil {
		return err
	}
	s.segs = segs
	s.seenMod = mod
	s.loaded = true
	return nil
}

func (s *Store) scanLocked() ([]SegmentInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wrapStoreErr("list_segments", ErrSegmentList, s.dir, 0, err)
	}

	known := make(map[string]SegmentInfo, len(s.segs))
	for _, info := range s.segs {
		known[info.Name] = info
	}

	var segs []SegmentInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, rollq.SegmentExt) {
			continue
		}
		if info, ok := known[name]; ok {
			segs = append(segs, info)
			continue
		}
		path := filepath.Join(s.dir, name)
		hdr, err := segment.ReadHeader(path)
		if err != nil {
			var se *segment.SegmentError
			if errors.As(err, &se) && errors.Is(se.Cause, fs.ErrNotExist) {
				continue // pruned between listing and reading
			}
			s.lg.Warn("skipping unreadable segment", "path", path, "error", err)
			continue
		}
		segs = append(segs, SegmentInfo{Name: name, Path: path, Header: hdr})
	}

	slices.SortFunc(segs, func(a, b SegmentInfo) int {
		switch {
		case a.Header.Cycle < b.Header.Cycle:
			return -1
		case a.Header.Cycle > b.Header.Cycle:
			return 1
		default:
			return 0
		}
	})
	return segs, nil
}

// Segments returns the cached segment view.
func (s *Store) Segments() []SegmentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.segs)
}

// Last returns the segment with the highest cycle.
func (s *Store) Last() (SegmentInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segs) == 0 {
		return SegmentInfo{}, false
	}
	return s.segs[len(s.segs)-1], true
}

// First returns the segment with the lowest cycle.
func (s *Store) First() (SegmentInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segs) == 0 {
		return SegmentInfo{}, false
	}
	return s.segs[0], true
}

// Find returns the segment that would contain index: the last one whose base
// index is not above it.
func (s *Store) Find(index uint64) (SegmentInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.segs) - 1; i >= 0; i-- {
		if s.segs[i].Header.BaseIndex <= index {
			return s.segs[i], true
		}
	}
	return SegmentInfo{}, false
}

// After returns the first segment whose cycle is above cycle.
func (s *Store) After(cycle uint64) (SegmentInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, info := range s.segs {
		if info.Header.Cycle > cycle {
			return info, true
		}
	}
	return SegmentInfo{}, false
}

// CreateSegment creates the segment for cycle starting at base and publishes it
// in the listing. The caller must hold the writer lock.
func (s *Store) CreateSegment(cycle, base uint64, now time.Time, size, growth int64) (*segment.Segment, error) {
	name := s.scheme.FileName(cycle)
	hdr := segment.Header{
		Version:     uint32(s.version), //nolint:gosec
		Cycle:       cycle,
		BaseIndex:   base,
		Created:     now.UTC(),
		RollSeconds: uint32(s.scheme.Length / time.Second), //nolint:gosec
	}
	seg, err := segment.Create(s.dir, name, hdr, size, growth)
	if err != nil {
		return nil, wrapStoreErr("create_segment", ErrSegmentCreate, s.dir, cycle, err)
	}

	first := len(s.Segments()) == 0
	s.listing.SetHighestCycle(cycle)
	if first {
		s.listing.SetLowestCycle(cycle)
		s.listing.SetLowestIndex(base)
	}
	s.listing.BumpModCount()

	if err := s.Refresh(true); err != nil {
		_ = seg.Close()
		return nil, err
	}
	s.lg.Info("segment created", "dir", s.dir, "name", name, "cycle", cycle, "base_index", base)
	return seg, nil
}

// PruneBefore deletes every segment whose cycle is below cycle, always keeping
// the newest segment. The caller must hold the writer lock.
func (s *Store) PruneBefore(cycle uint64) ([]SegmentInfo, error) {
	if err := s.Refresh(true); err != nil {
		return nil, err
	}
	segs := s.Segments()
	if len(segs) <= 1 {
		return nil, nil
	}

	var removed []SegmentInfo
	for _, info := range segs[:len(segs)-1] {
		if info.Header.Cycle >= cycle {
			break
		}
		if err := os.Remove(info.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, wrapStoreErr("prune", ErrPrune, s.dir, info.Header.Cycle, err)
		}
		removed = append(removed, info)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	// Remaining segments never include a removed one, so lowest is well defined.
	lowest := segs[len(removed)]
	s.listing.SetLowestIndex(lowest.Header.BaseIndex)
	s.listing.SetLowestCycle(lowest.Header.Cycle)
	s.listing.BumpModCount()

	s.mu.Lock()
	for _, info := range removed {
		delete(s.sparse, info.Header.Cycle)
	}
	s.mu.Unlock()

	if err := s.Refresh(true); err != nil {
		return removed, err
	}
	s.lg.Info("segments pruned", "dir", s.dir, "count", len(removed), "lowest_cycle", lowest.Header.Cycle)
	return removed, nil
}

// Remember records the offset of index in the segment of cycle if index falls on
// the sparse stride.
func (s *Store) Remember(cycle, base, index uint64, offset int64) {
	spacing := uint64(s.scheme.IndexSpacing) //nolint:gosec
	if spacing == 0 || index < base || (index-base)%spacing != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sparse[cycle]
	if !ok {
		m = make(map[uint64]int64)
		s.sparse[cycle] = m
	}
	m[index] = offset
}

// Hint returns the nearest remembered position at or below index in the
// segment of cycle.
func (s *Store) Hint(cycle, base, index uint64) (int64, uint64, bool) {
	spacing := uint64(s.scheme.IndexSpacing) //nolint:gosec
	if spacing == 0 || index < base {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sparse[cycle]
	if !ok {
		return 0, 0, false
	}
	for at := base + (index-base)/spacing*spacing; ; at -= spacing {
		if off, ok := m[at]; ok {
			return off, at, true
		}
		if at < base+spacing {
			return 0, 0, false
		}
	}
}

// Close releases the listing mapping.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.listing.Close()
}
