package segment

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/julianstephens/rollq/internal/rollq/record"
)

// Segment header layout (64 bytes, little endian):
//
//	0  magic      "RQSEG001"
//	8  version    u32
//	12 hdr size   u32
//	16 cycle      u64
//	24 base index u64
//	32 created    i64 unix millis
//	40 roll secs  u32
//	60 crc32c     u32 over bytes [0,60)
const (
	HeaderSize = 64
	crcOffset  = 60
)

var magic = [8]byte{'R', 'Q', 'S', 'E', 'G', '0', '0', '1'}

// Header describes a segment file. It is written once, before the file becomes
// visible under its final name.
type Header struct {
	Version     uint32
	Cycle       uint64
	BaseIndex   uint64
	Created     time.Time
	RollSeconds uint32
}

// Encode serializes the header into a HeaderSize buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], HeaderSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.Cycle)
	binary.LittleEndian.PutUint64(buf[24:32], h.BaseIndex)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.Created.UnixMilli())) //nolint:gosec
	binary.LittleEndian.PutUint32(buf[40:44], h.RollSeconds)
	binary.LittleEndian.PutUint32(buf[crcOffset:HeaderSize], record.ComputeChecksum(buf[:crcOffset]))
	return buf
}

// DecodeHeader parses and verifies a segment header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderShort
	}
	if !bytes.Equal(buf[0:8], magic[:]) {
		return Header{}, ErrBadMagic
	}
	crc := binary.LittleEndian.Uint32(buf[crcOffset:HeaderSize])
	if !record.VerifyChecksum(buf[:crcOffset], crc) {
		return Header{}, ErrHeaderChecksum
	}
	return Header{
		Version:     binary.LittleEndian.Uint32(buf[8:12]),
		Cycle:       binary.LittleEndian.Uint64(buf[16:24]),
		BaseIndex:   binary.LittleEndian.Uint64(buf[24:32]),
		Created:     time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[32:40]))).UTC(), //nolint:gosec
		RollSeconds: binary.LittleEndian.Uint32(buf[40:44]),
	}, nil
}

// ReadHeader reads the header of the segment at path without mapping it.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return Header{}, wrapSegErr("read_header", ErrOpen, path, 0, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Header{}, wrapSegErr("read_header", ErrHeaderShort, path, 0, err)
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return Header{}, wrapSegErr("read_header", err, path, 0, nil)
	}
	return h, nil
}
