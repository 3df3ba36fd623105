package rollq

import (
	"fmt"
	"time"

	"github.com/julianstephens/go-utils/validator"
)

// Compression selects how appended payloads are stored.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionS2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionS2:
		return "s2"
	default:
		return "unknown"
	}
}

// ParseCompression maps a CLI/config name to a Compression value.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "s2":
		return CompressionS2, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", name)
	}
}

// Options contains configuration for opening a queue.
//
// None of these values are persisted: the roll scheme and format version live in
// the queue directory, everything here is a per-handle runtime choice.
type Options struct {
	// SegmentSize is the initial size a new segment file is preallocated to.
	SegmentSize int64
	// SegmentGrowth is the minimum number of bytes a full segment is extended by.
	SegmentGrowth int64
	// MaxPayload bounds a single appended payload (after compression).
	MaxPayload int

	// PollInterval caps the backoff between availability checks in Collect.
	PollInterval time.Duration

	// SyncOnAppend msyncs the written frame before Append returns.
	SyncOnAppend bool

	// Compression applies to payloads appended through this handle only.
	Compression Compression

	// Clock supplies the time used to pick the cycle of an append. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns Options with default settings.
func DefaultOptions() Options {
	return Options{
		SegmentSize:   DefaultSegmentSize,
		SegmentGrowth: DefaultSegmentGrowth,
		MaxPayload:    DefaultMaxPayload,
		PollInterval:  DefaultPollInterval,
		Compression:   CompressionNone,
		Clock:         time.Now,
	}
}

// WithDefaults fills zero fields of o from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.SegmentSize == 0 {
		o.SegmentSize = d.SegmentSize
	}
	if o.SegmentGrowth == 0 {
		o.SegmentGrowth = d.SegmentGrowth
	}
	if o.MaxPayload == 0 {
		o.MaxPayload = d.MaxPayload
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// Validate checks that sizes and intervals are usable.
func (o Options) Validate() error {
	v := validator.Numbers[uint64]()
	if o.SegmentSize < 0 || o.SegmentGrowth < 0 || o.MaxPayload < 0 || o.PollInterval < 0 {
		return fmt.Errorf("options: negative value")
	}
	if err := v.ValidateNonZero(uint64(o.SegmentSize)); err != nil {
		return fmt.Errorf("options: segment size: %w", err)
	}
	if err := v.ValidateNonZero(uint64(o.SegmentGrowth)); err != nil {
		return fmt.Errorf("options: segment growth: %w", err)
	}
	if err := v.ValidateNonZero(uint64(o.MaxPayload)); err != nil {
		return fmt.Errorf("options: max payload: %w", err)
	}
	if o.PollInterval < MinPollInterval {
		return fmt.Errorf("options: poll interval %s below minimum %s", o.PollInterval, MinPollInterval)
	}
	if o.Compression != CompressionNone && o.Compression != CompressionS2 {
		return fmt.Errorf("options: unknown compression %d", o.Compression)
	}
	return nil
}
