package record_test

import (
	"bytes"
	"errors"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/rollq/internal/rollq/record"
)

// TestPreparePayload_CompressesRepetitiveData tests S2 is used when it helps
func TestPreparePayload_CompressesRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 512)

	stored, flags := record.PreparePayload(payload, true)
	tst.RequireDeepEqual(t, flags, record.FlagCompressed)
	tst.AssertTrue(t, len(stored) < len(payload), "expected smaller stored payload")

	data, err := record.EncodeFrame(3, flags, stored)
	tst.RequireNoError(t, err)
	f, err := record.DecodeFrame(data)
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, f.Compressed(), "frame should carry the compressed flag")

	out, err := record.PayloadOf(f)
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, bytes.Equal(out, payload), "decompressed payload mismatch")
}

// TestPreparePayload_KeepsSmallOrDisabled tests payloads stay raw when compression does not apply
func TestPreparePayload_KeepsSmallOrDisabled(t *testing.T) {
	stored, flags := record.PreparePayload([]byte("x"), true)
	tst.RequireDeepEqual(t, flags, uint32(0))
	tst.RequireDeepEqual(t, stored, []byte("x"))

	payload := bytes.Repeat([]byte("z"), 1024)
	stored, flags = record.PreparePayload(payload, false)
	tst.RequireDeepEqual(t, flags, uint32(0))
	tst.AssertTrue(t, bytes.Equal(stored, payload), "disabled compression must not alter payload")

	stored, flags = record.PreparePayload(nil, true)
	tst.RequireDeepEqual(t, flags, uint32(0))
	tst.AssertTrue(t, len(stored) == 0, "empty payload stays empty")
}

// TestPayloadOf_CopiesAndFailsOnGarbage tests the returned payload is independent
func TestPayloadOf_CopiesAndFailsOnGarbage(t *testing.T) {
	raw := []byte("view")
	out, err := record.PayloadOf(record.Frame{Payload: raw})
	tst.RequireNoError(t, err)
	raw[0] = 'X'
	tst.RequireDeepEqual(t, out, []byte("view"))

	_, err = record.PayloadOf(record.Frame{Flags: record.FlagCompressed, Payload: []byte{0xff, 0xff, 0xff}})
	tst.AssertTrue(t, errors.Is(err, record.ErrDecompress), "expected decompress failure")
}
