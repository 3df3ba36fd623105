package roll

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScheme = errors.New("roll: unknown roll scheme")
	ErrBadPattern    = errors.New("roll: invalid date pattern")
)

// SchemeError reports a lookup of a name that is not in the catalogue.
type SchemeError struct {
	Name string
	Err  error
}

func (e *SchemeError) Error() string { return fmt.Sprintf("%s: %q", e.Err.Error(), e.Name) }
func (e *SchemeError) Unwrap() error { return e.Err }

// PatternError reports a date pattern that cannot be compiled.
type PatternError struct {
	Pattern string
	At      int
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("%s: %q at=%d", e.Err.Error(), e.Pattern, e.At)
}
func (e *PatternError) Unwrap() error { return e.Err }
