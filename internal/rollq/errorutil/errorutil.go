package errorutil

import (
	"fmt"
	"strings"
)

// Coordinates holds positional information (cycle, byte offset, record index)
// shared by the positional error types of the rollq packages.
type Coordinates struct {
	// Cycle is the roll cycle of the segment where the error occurred.
	Cycle *uint64

	// Offset is the byte offset within a segment file.
	Offset *int64

	// Index is the record index involved, if known.
	Index *uint64
}

// At builds Coordinates for a cycle and offset.
func At(cycle uint64, offset int64) *Coordinates {
	return &Coordinates{Cycle: &cycle, Offset: &offset}
}

// WithIndex returns a copy of c that also carries the record index.
func (c *Coordinates) WithIndex(index uint64) *Coordinates {
	out := &Coordinates{Index: &index}
	if c != nil {
		out.Cycle = c.Cycle
		out.Offset = c.Offset
	}
	return out
}

// FormatCoordinates renders the non-nil fields as "cycle=X at=Y index=Z".
// Returns an empty string if all coordinates are nil.
func (c *Coordinates) FormatCoordinates() string {
	if c == nil {
		return ""
	}

	var parts []string
	if c.Cycle != nil {
		parts = append(parts, fmt.Sprintf("cycle=%d", *c.Cycle))
	}
	if c.Offset != nil {
		parts = append(parts, fmt.Sprintf("at=%d", *c.Offset))
	}
	if c.Index != nil {
		parts = append(parts, fmt.Sprintf("index=%d", *c.Index))
	}
	return strings.Join(parts, " ")
}

// String implements the Stringer interface for Coordinates.
func (c *Coordinates) String() string {
	return c.FormatCoordinates()
}
