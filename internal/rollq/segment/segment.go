package segment

import (
	"os"
	"path/filepath"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/rollq/internal/rollq/record"
)

// Segment is one memory-mapped segment file. A writable Segment may extend the
// file; a read-only Segment follows growth made by writers in any process.
//
// A Segment is not safe for concurrent use; callers serialize access.
type Segment struct {
	path     string
	f        *os.File
	data     []byte
	writable bool
	growth   int64
	hdr      Header
	closed   bool
}

// EntryKind classifies the slot at an offset.
type EntryKind uint8

const (
	// EntryEmpty means nothing has been committed at the offset yet.
	EntryEmpty EntryKind = iota
	// EntryData is a committed record frame.
	EntryData
	// EntryEOF marks the end of a rolled segment.
	EntryEOF
	// EntrySkip is a committed frame readers step over (metadata).
	EntrySkip
)

func (k EntryKind) String() string {
	switch k {
	case EntryEmpty:
		return "empty"
	case EntryData:
		return "data"
	case EntryEOF:
		return "eof"
	case EntrySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Entry is the result of reading the slot at an offset.
type Entry struct {
	Kind  EntryKind
	Frame record.Frame
	// Next is the offset of the following slot. For EntryEmpty and EntryEOF it
	// equals the current offset.
	Next int64
}

// Create writes a new segment file named name in dir and maps it read-write.
// The file is fully initialized under a temporary name and renamed into place,
// so readers never observe a partial header.
func Create(dir, name string, hdr Header, size, growth int64) (*Segment, error) {
	final := filepath.Join(dir, name)
	if helpers.Exists(final) {
		return nil, wrapSegErr("create", ErrExists, final, 0, nil)
	}
	if size < HeaderSize+record.Alignment {
		size = HeaderSize + record.Alignment
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return nil, wrapSegErr("create", ErrCreate, final, 0, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := tmp.Truncate(size); err != nil {
		cleanup()
		return nil, wrapSegErr("create", ErrCreate, final, 0, err)
	}
	if _, err := tmp.WriteAt(hdr.Encode(), 0); err != nil {
		cleanup()
		return nil, wrapSegErr("create", ErrCreate, final, 0, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, wrapSegErr("create", ErrCreate, final, 0, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, wrapSegErr("create", ErrCreate, final, 0, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return nil, wrapSegErr("create", ErrCreate, final, 0, err)
	}
	syncDir(dir)

	return Open(final, true, growth)
}

// Open maps an existing segment. growth is the minimum extension used when a
// writable segment fills; it is ignored for read-only segments.
func Open(path string, writable bool, growth int64) (*Segment, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0) //nolint:gosec
	if err != nil {
		return nil, wrapSegErr("open", ErrOpen, path, 0, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapSegErr("open", ErrOpen, path, 0, err)
	}
	if info.Size() < HeaderSize {
		_ = f.Close()
		return nil, wrapSegErr("open", ErrHeaderShort, path, 0, nil)
	}

	data, err := mapFile(f, info.Size(), writable)
	if err != nil {
		_ = f.Close()
		return nil, wrapSegErr("open", ErrMap, path, 0, err)
	}

	hdr, err := DecodeHeader(data[:HeaderSize])
	if err != nil {
		_ = unmap(data)
		_ = f.Close()
		return nil, wrapSegErr("open", err, path, 0, nil)
	}

	return &Segment{
		path:     path,
		f:        f,
		data:     data,
		writable: writable,
		growth:   growth,
		hdr:      hdr,
	}, nil
}

// Path returns the file path of the segment.
func (s *Segment) Path() string { return s.path }

// Header returns the decoded segment header.
func (s *Segment) Header() Header { return s.hdr }

// Cycle returns the cycle the segment covers.
func (s *Segment) Cycle() uint64 { return s.hdr.Cycle }

// BaseIndex returns the index of the first record in the segment.
func (s *Segment) BaseIndex() uint64 { return s.hdr.BaseIndex }

// MappedSize returns the number of bytes currently mapped.
func (s *Segment) MappedSize() int64 { return int64(len(s.data)) }

// Writable reports whether the segment is mapped read-write.
func (s *Segment) Writable() bool { return s.writable }

// FirstOffset is where the first frame of every segment starts.
func FirstOffset() int64 { return HeaderSize }

// ensure makes sure [0,end) is mapped. Writable segments extend the file;
// read-only segments remap if another writer has extended it.
func (s *Segment) ensure(end int64) error {
	if s.closed {
		return wrapSegErr("ensure", ErrClosed, s.path, end, nil)
	}
	if end <= int64(len(s.data)) {
		return nil
	}

	info, err := s.f.Stat()
	if err != nil {
		return wrapSegErr("ensure", ErrOpen, s.path, end, err)
	}
	size := info.Size()

	if size < end {
		if !s.writable {
			return wrapSegErr("ensure", ErrBeyondEnd, s.path, end, nil)
		}
		grow := s.growth
		if grow < end-size {
			grow = end - size
		}
		size += grow
		if err := s.f.Truncate(size); err != nil {
			return wrapSegErr("grow", ErrGrow, s.path, end, err)
		}
	}

	data, err := mapFile(s.f, size, s.writable)
	if err != nil {
		return wrapSegErr("remap", ErrMap, s.path, end, err)
	}
	old := s.data
	s.data = data
	if err := unmap(old); err != nil {
		return wrapSegErr("remap", ErrMap, s.path, end, err)
	}
	return nil
}

// Read returns the entry at off. An offset past the end of the file reads as
// EntryEmpty so readers keep waiting for a writer to extend it.
func (s *Segment) Read(off int64) (Entry, error) {
	if off%record.WordSize != 0 {
		return Entry{}, wrapSegErr("read", ErrMisaligned, s.path, off, nil)
	}
	if err := s.ensure(off + record.WordSize); err != nil {
		if isBeyondEnd(err) {
			return Entry{Kind: EntryEmpty, Next: off}, nil
		}
		return Entry{}, err
	}

	kind, bodyLen := record.ClassifyWord(loadWord(s.data, off))
	switch kind {
	case record.WordKindUnallocated, record.WordKindWorking:
		return Entry{Kind: EntryEmpty, Next: off}, nil
	case record.WordKindEOF:
		return Entry{Kind: EntryEOF, Next: off}, nil
	}

	if err := record.ValidateBodyLength(bodyLen); err != nil {
		if pe, ok := record.AsParseError(err); ok {
			pe.Offset = off
		}
		return Entry{}, err
	}
	size := record.SizeForBodyLen(bodyLen)
	if err := s.ensure(off + record.WordSize + int64(bodyLen)); err != nil {
		if isBeyondEnd(err) {
			return Entry{}, &record.ParseError{
				Kind:        record.KindTruncated,
				Offset:      off,
				DeclaredLen: bodyLen,
				Err:         record.ErrTruncated,
			}
		}
		return Entry{}, err
	}

	if kind == record.WordKindMetadata {
		return Entry{Kind: EntrySkip, Next: off + size}, nil
	}

	body := s.data[off+record.WordSize : off+record.WordSize+int64(bodyLen)]
	f, err := record.DecodeBody(body, off)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Kind: EntryData, Frame: f, Next: off + size}, nil
}

// Write encodes a frame at off and publishes its header word. The space after
// the frame always keeps room for an EOF marker. It returns the offset of the
// next free slot.
func (s *Segment) Write(off int64, index uint64, flags uint32, payload []byte) (int64, error) {
	if !s.writable {
		return off, wrapSegErr("write", ErrReadOnly, s.path, off, nil)
	}
	if off%record.Alignment != 0 {
		return off, wrapSegErr("write", ErrMisaligned, s.path, off, nil)
	}
	if err := record.ValidatePayloadLength(len(payload), 0); err != nil {
		return off, err
	}
	size := record.FrameSize(len(payload))
	if err := s.ensure(off + size + record.Alignment); err != nil {
		return off, err
	}

	body := s.data[off+record.WordSize : off+size]
	word, err := record.EncodeBody(body, index, flags, payload)
	if err != nil {
		return off, err
	}
	storeWord(s.data, off, word)
	return off + size, nil
}

// WriteEOF marks off as the end of the segment.
func (s *Segment) WriteEOF(off int64) error {
	if !s.writable {
		return wrapSegErr("write_eof", ErrReadOnly, s.path, off, nil)
	}
	if err := s.ensure(off + record.WordSize); err != nil {
		return err
	}
	storeWord(s.data, off, record.WordEOF)
	return nil
}

// Sync flushes the mapped pages of [off, off+n) to the file.
func (s *Segment) Sync(off, n int64) error {
	if s.closed {
		return wrapSegErr("sync", ErrClosed, s.path, off, nil)
	}
	if err := msyncRange(s.data, off, n); err != nil {
		return wrapSegErr("sync", ErrSync, s.path, off, err)
	}
	return nil
}

// Close unmaps the segment and closes its file. Closing twice is a no-op.
func (s *Segment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := unmap(s.data)
	s.data = nil
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return wrapSegErr("close", ErrClose, s.path, 0, err)
	}
	return nil
}

func isBeyondEnd(err error) bool {
	se, ok := err.(*SegmentError)
	return ok && se.Err == ErrBeyondEnd
}

func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
