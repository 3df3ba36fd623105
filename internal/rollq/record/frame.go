package record

import (
	"encoding/binary"
)

// Frame layout inside a segment, 8-byte aligned:
//
//	word  u32   header word, see WordKind
//	index u64   record index
//	flags u32   FlagCompressed, ...
//	payload
//	crc   u32   CRC32-C over index|flags|payload
//	pad         zeros up to the next multiple of Alignment
const (
	WordSize       = 4
	IndexSize      = 8
	FlagsSize      = 4
	CRCSize        = 4
	BodyHeaderSize = IndexSize + FlagsSize
	Alignment      = 8
)

// Header word encoding. A zero word marks free space; readers stop there.
const (
	WordUnallocated uint32 = 0
	WordWorking     uint32 = 0x80000000
	WordMetadata    uint32 = 0x40000000
	WordEOF         uint32 = 0xC0000000
	WordFlagMask    uint32 = 0xC0000000
	LengthMask      uint32 = 0x3FFFFFFF
)

// Limits derived from the 30-bit length field.
const (
	MinBodyLen = BodyHeaderSize + CRCSize
	MaxBodyLen = int(LengthMask)
	MaxPayload = MaxBodyLen - BodyHeaderSize - CRCSize
)

const (
	FlagCompressed uint32 = 1 << 0
)

type WordKind uint8

const (
	WordKindUnallocated WordKind = iota
	WordKindData
	WordKindEOF
	WordKindMetadata
	WordKindWorking
)

func (k WordKind) String() string {
	switch k {
	case WordKindUnallocated:
		return "unallocated"
	case WordKindData:
		return "data"
	case WordKindEOF:
		return "eof"
	case WordKindMetadata:
		return "metadata"
	case WordKindWorking:
		return "working"
	default:
		return "unknown"
	}
}

// ClassifyWord splits a header word into its kind and body length.
func ClassifyWord(w uint32) (WordKind, uint32) {
	if w == WordUnallocated {
		return WordKindUnallocated, 0
	}
	switch w & WordFlagMask {
	case WordEOF:
		return WordKindEOF, 0
	case WordWorking:
		return WordKindWorking, w & LengthMask
	case WordMetadata:
		return WordKindMetadata, w & LengthMask
	default:
		return WordKindData, w & LengthMask
	}
}

// Frame is a decoded record frame. Payload aliases the decoded buffer and is
// still compressed when Flags has FlagCompressed set.
type Frame struct {
	Index   uint64
	Flags   uint32
	Payload []byte
	CRC     uint32
	// Offset of the header word within the segment and Size of the aligned frame.
	Offset int64
	Size   int64
}

// Compressed reports whether the payload is stored S2-compressed.
func (f Frame) Compressed() bool {
	return f.Flags&FlagCompressed != 0
}

// Align rounds n up to the frame alignment.
func Align(n int64) int64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// BodyLen returns the length stored in the header word for a payload of n bytes.
func BodyLen(n int) int {
	return BodyHeaderSize + n + CRCSize
}

// FrameSize returns the aligned on-disk size of a frame carrying n payload bytes.
func FrameSize(n int) int64 {
	return Align(int64(WordSize + BodyLen(n)))
}

// SizeForBodyLen returns the aligned on-disk size of a frame whose word declares bodyLen.
func SizeForBodyLen(bodyLen uint32) int64 {
	return Align(int64(WordSize) + int64(bodyLen))
}

// ValidatePayloadLength checks n against the frame format limit and the caller's limit.
// A limit of 0 means only the format limit applies.
func ValidatePayloadLength(n int, limit int) error {
	max := MaxPayload
	if limit > 0 && limit < max {
		max = limit
	}
	if n > max {
		return &ParseError{
			Kind: KindTooLarge,
			Want: max,
			Have: n,
			Err:  ErrTooLarge,
		}
	}
	return nil
}

// ValidateBodyLength checks a declared body length read from a header word.
func ValidateBodyLength(bodyLen uint32) error {
	if bodyLen < MinBodyLen {
		return &ParseError{
			Kind:        KindInvalidLength,
			DeclaredLen: bodyLen,
			Want:        MinBodyLen,
			Have:        int(bodyLen),
			Err:         ErrInvalidLength,
		}
	}
	return nil
}

// EncodeBody writes index, flags, payload and checksum into dst, which must hold
// at least BodyLen(len(payload)) bytes. It returns the word to publish for the frame.
// The word is not written: publishing it is the commit point.
func EncodeBody(dst []byte, index uint64, flags uint32, payload []byte) (uint32, error) {
	if err := ValidatePayloadLength(len(payload), 0); err != nil {
		return 0, err
	}
	n := BodyLen(len(payload))
	if len(dst) < n {
		return 0, &ParseError{
			Kind: KindTruncated,
			Want: n,
			Have: len(dst),
			Err:  ErrTruncated,
		}
	}

	binary.LittleEndian.PutUint64(dst[0:IndexSize], index)
	binary.LittleEndian.PutUint32(dst[IndexSize:BodyHeaderSize], flags)
	copy(dst[BodyHeaderSize:], payload)

	crcAt := BodyHeaderSize + len(payload)
	crc := ComputeChecksum(dst[:crcAt])
	binary.LittleEndian.PutUint32(dst[crcAt:crcAt+CRCSize], crc)

	return uint32(n), nil //nolint:gosec
}

// EncodeFrame returns a standalone frame (word included, padded) for payload.
func EncodeFrame(index uint64, flags uint32, payload []byte) ([]byte, error) {
	if err := ValidatePayloadLength(len(payload), 0); err != nil {
		return nil, err
	}
	data := make([]byte, FrameSize(len(payload)))
	word, err := EncodeBody(data[WordSize:], index, flags, payload)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(data[:WordSize], word)
	return data, nil
}

// DecodeBody validates the checksum of body and splits it into a Frame.
// body must be exactly the bodyLen declared by the header word.
func DecodeBody(body []byte, offset int64) (Frame, error) {
	if err := ValidateBodyLength(uint32(len(body))); err != nil { //nolint:gosec
		if pe, ok := AsParseError(err); ok {
			pe.Offset = offset
		}
		return Frame{}, err
	}

	crcAt := len(body) - CRCSize
	crc := binary.LittleEndian.Uint32(body[crcAt:])
	if !VerifyChecksum(body[:crcAt], crc) {
		return Frame{}, &ParseError{
			Kind:        KindChecksumMismatch,
			Offset:      offset,
			DeclaredLen: uint32(len(body)), //nolint:gosec
			Err:         ErrChecksumMismatch,
		}
	}

	return Frame{
		Index:   binary.LittleEndian.Uint64(body[0:IndexSize]),
		Flags:   binary.LittleEndian.Uint32(body[IndexSize:BodyHeaderSize]),
		Payload: body[BodyHeaderSize:crcAt],
		CRC:     crc,
		Offset:  offset,
		Size:    SizeForBodyLen(uint32(len(body))), //nolint:gosec
	}, nil
}

// DecodeFrame decodes a standalone frame produced by EncodeFrame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < WordSize {
		return Frame{}, &ParseError{
			Kind: KindTruncated,
			Want: WordSize,
			Have: len(data),
			Err:  ErrTruncated,
		}
	}
	kind, bodyLen := ClassifyWord(binary.LittleEndian.Uint32(data[:WordSize]))
	if kind != WordKindData {
		return Frame{}, &ParseError{
			Kind:        KindCorrupt,
			DeclaredLen: bodyLen,
			Err:         ErrCorrupt,
		}
	}
	if err := ValidateBodyLength(bodyLen); err != nil {
		return Frame{}, err
	}
	end := WordSize + int(bodyLen)
	if len(data) < end {
		return Frame{}, &ParseError{
			Kind:        KindTruncated,
			DeclaredLen: bodyLen,
			Want:        end,
			Have:        len(data),
			Err:         ErrTruncated,
		}
	}
	return DecodeBody(data[WordSize:end], 0)
}

// CheckIndex verifies a decoded frame carries the expected record index.
func CheckIndex(f Frame, want uint64) error {
	if f.Index != want {
		return &ParseError{
			Kind:      KindIndexMismatch,
			Offset:    f.Offset,
			WantIndex: want,
			HaveIndex: f.Index,
			Err:       ErrIndexMismatch,
		}
	}
	return nil
}
