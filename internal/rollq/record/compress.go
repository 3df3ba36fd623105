package record

import (
	"github.com/klauspost/compress/s2"
)

// PreparePayload returns the bytes to store for payload and the frame flags that
// describe them. When compress is set the S2 block encoding is kept only if it
// is smaller than the original.
func PreparePayload(payload []byte, compress bool) ([]byte, uint32) {
	if !compress || len(payload) == 0 {
		return payload, 0
	}
	enc := s2.Encode(nil, payload)
	if len(enc) >= len(payload) {
		return payload, 0
	}
	return enc, FlagCompressed
}

// PayloadOf returns an independent copy of the frame's logical payload,
// decompressing it if needed.
func PayloadOf(f Frame) ([]byte, error) {
	if !f.Compressed() {
		out := make([]byte, len(f.Payload))
		copy(out, f.Payload)
		return out, nil
	}
	out, err := s2.Decode(nil, f.Payload)
	if err != nil {
		return nil, &ParseError{
			Kind:   KindDecompress,
			Offset: f.Offset,
			Have:   len(f.Payload),
			Err:    err,
		}
	}
	return out, nil
}
