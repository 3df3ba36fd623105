package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Listing file layout (ListingSize bytes, little endian, mapped shared):
//
//	0  magic         "RQLIST01"
//	8  version       u32
//	16 modcount      u64
//	24 highest cycle u64
//	32 lowest cycle  u64
//	40 next index    u64
//	48 lowest index  u64
//	64 roll scheme   [32]byte, NUL padded
const (
	ListingSize = 4096

	offVersion      = 8
	offModCount     = 16
	offHighestCycle = 24
	offLowestCycle  = 32
	offNextIndex    = 40
	offLowestIndex  = 48
	offScheme       = 64
	schemeLen       = 32
)

var listingMagic = [8]byte{'R', 'Q', 'L', 'I', 'S', 'T', '0', '1'}

// Listing is the shared, memory-mapped state of a queue directory. Counters are
// read and written atomically so readers in any process can poll them. Writers
// mutate them only while holding Lock.
type Listing struct {
	path string
	f    *os.File
	data []byte

	// flock is per open file description, so goroutines sharing this handle
	// also need an in-process mutex.
	mu sync.Mutex
}

// CreateListing initializes a new listing file at path and maps it.
func CreateListing(path string, version int, scheme string) (*Listing, error) {
	dir := filepath.Dir(path)
	if len(scheme) > schemeLen {
		return nil, wrapStoreErr("create_listing", ErrListingCreate, dir, 0, errors.New("scheme name too long"))
	}

	buf := make([]byte, ListingSize)
	copy(buf[0:8], listingMagic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], uint32(version)) //nolint:gosec
	copy(buf[offScheme:offScheme+schemeLen], scheme)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, wrapStoreErr("create_listing", ErrListingCreate, dir, 0, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, wrapStoreErr("create_listing", ErrListingCreate, dir, 0, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, wrapStoreErr("create_listing", ErrListingCreate, dir, 0, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, wrapStoreErr("create_listing", ErrListingCreate, dir, 0, err)
	}
	// link fails if another process created the listing first
	if err := os.Link(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			return nil, wrapStoreErr("create_listing", ErrQueueExists, dir, 0, err)
		}
		return nil, wrapStoreErr("create_listing", ErrListingCreate, dir, 0, err)
	}
	_ = os.Remove(tmpPath)

	return OpenListing(path)
}

// OpenListing maps an existing listing file read-write.
func OpenListing(path string) (*Listing, error) {
	dir := filepath.Dir(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec
	if err != nil {
		return nil, wrapStoreErr("open_listing", ErrListingOpen, dir, 0, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapStoreErr("open_listing", ErrListingOpen, dir, 0, err)
	}
	if info.Size() < ListingSize {
		_ = f.Close()
		return nil, wrapStoreErr("open_listing", ErrListingCorrupt, dir, 0, nil)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, ListingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, wrapStoreErr("open_listing", ErrListingOpen, dir, 0, err)
	}
	if !bytes.Equal(data[0:8], listingMagic[:]) {
		_ = unix.Munmap(data)
		_ = f.Close()
		return nil, wrapStoreErr("open_listing", ErrListingCorrupt, dir, 0, nil)
	}

	return &Listing{path: path, f: f, data: data}, nil
}

func (l *Listing) word64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&l.data[off])) //nolint:gosec
}

// Path returns the listing file path.
func (l *Listing) Path() string { return l.path }

// Version returns the format version recorded at creation.
func (l *Listing) Version() int {
	return int(binary.LittleEndian.Uint32(l.data[offVersion:]))
}

// SchemeName returns the roll scheme recorded at creation.
func (l *Listing) SchemeName() string {
	raw := l.data[offScheme : offScheme+schemeLen]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func (l *Listing) ModCount() uint64     { return atomic.LoadUint64(l.word64(offModCount)) }
func (l *Listing) HighestCycle() uint64 { return atomic.LoadUint64(l.word64(offHighestCycle)) }
func (l *Listing) LowestCycle() uint64  { return atomic.LoadUint64(l.word64(offLowestCycle)) }
func (l *Listing) NextIndex() uint64    { return atomic.LoadUint64(l.word64(offNextIndex)) }
func (l *Listing) LowestIndex() uint64  { return atomic.LoadUint64(l.word64(offLowestIndex)) }

// BumpModCount signals readers that the segment set changed.
func (l *Listing) BumpModCount() uint64 {
	return atomic.AddUint64(l.word64(offModCount), 1)
}

func (l *Listing) SetHighestCycle(c uint64) { atomic.StoreUint64(l.word64(offHighestCycle), c) }
func (l *Listing) SetLowestCycle(c uint64)  { atomic.StoreUint64(l.word64(offLowestCycle), c) }
func (l *Listing) SetNextIndex(i uint64)    { atomic.StoreUint64(l.word64(offNextIndex), i) }
func (l *Listing) SetLowestIndex(i uint64)  { atomic.StoreUint64(l.word64(offLowestIndex), i) }

// Lock acquires the directory-wide writer lock.
func (l *Listing) Lock() error {
	l.mu.Lock()
	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		l.mu.Unlock()
		return wrapStoreErr("lock", ErrLock, filepath.Dir(l.path), 0, err)
	}
}

// Unlock releases the writer lock taken by Lock.
func (l *Listing) Unlock() error {
	defer l.mu.Unlock()
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return wrapStoreErr("unlock", ErrLock, filepath.Dir(l.path), 0, err)
	}
	return nil
}

// Sync flushes the listing page to disk.
func (l *Listing) Sync() error {
	return unix.Msync(l.data, unix.MS_SYNC)
}

// Close unmaps the listing and closes its file.
func (l *Listing) Close() error {
	if l.data == nil {
		return nil
	}
	err := unix.Munmap(l.data)
	l.data = nil
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
