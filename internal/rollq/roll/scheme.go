package roll

import (
	"slices"
	"time"
)

// SegmentExt is appended to the formatted cycle to name a segment file.
const SegmentExt = ".cq4"

// Scheme is a named roll granularity. Cycle numbers count whole Lengths since
// Epoch; every writer and reader of a queue must use the same Scheme.
type Scheme struct {
	Name   string
	Format string
	Length time.Duration
	// IndexCount and IndexSpacing mirror the upstream catalogue. rollq uses
	// IndexSpacing as the stride of its in-memory sparse position index.
	IndexCount   int
	IndexSpacing int
	Epoch        time.Time

	pattern *Pattern
}

func scheme(name, format string, secs int64, count, spacing int) Scheme {
	return Scheme{
		Name:         name,
		Format:       format,
		Length:       time.Duration(secs) * time.Second,
		IndexCount:   count,
		IndexSpacing: spacing,
		Epoch:        time.Unix(0, 0).UTC(),
		pattern:      MustCompilePattern(format),
	}
}

var catalogue = []Scheme{
	scheme("FIVE_MINUTELY", "yyyyMMdd-HHmm'V'", 5*60, 2<<10, 256),
	scheme("TEN_MINUTELY", "yyyyMMdd-HHmm'X'", 10*60, 2<<10, 256),
	scheme("TWENTY_MINUTELY", "yyyyMMdd-HHmm'XX'", 20*60, 2<<10, 256),
	scheme("HALF_HOURLY", "yyyyMMdd-HHmm'H'", 30*60, 2<<10, 256),
	scheme("FAST_HOURLY", "yyyyMMdd-HH'F'", 60*60, 4<<10, 256),
	scheme("TWO_HOURLY", "yyyyMMdd-HH'II'", 2*60*60, 4<<10, 256),
	scheme("FOUR_HOURLY", "yyyyMMdd-HH'IV'", 4*60*60, 4<<10, 256),
	scheme("SIX_HOURLY", "yyyyMMdd-HH'VI'", 6*60*60, 4<<10, 256),
	scheme("FAST_DAILY", "yyyyMMdd'F'", 24*60*60, 4<<10, 256),

	scheme("MINUTELY", "yyyyMMdd-HHmm", 60, 2<<10, 16),
	scheme("HOURLY", "yyyyMMdd-HH", 60*60, 4<<10, 16),
	scheme("DAILY", "yyyyMMdd", 24*60*60, 8<<10, 64),

	scheme("LARGE_HOURLY", "yyyyMMdd-HH'L'", 60*60, 8<<10, 64),
	scheme("LARGE_DAILY", "yyyyMMdd'L'", 24*60*60, 32<<10, 128),
	scheme("XLARGE_DAILY", "yyyyMMdd'X'", 24*60*60, 32<<10, 256),
	scheme("HUGE_DAILY", "yyyyMMdd'H'", 24*60*60, 32<<10, 1024),

	scheme("SMALL_DAILY", "yyyyMMdd'S'", 24*60*60, 8<<10, 8),
	scheme("LARGE_HOURLY_SPARSE", "yyyyMMdd-HH'LS'", 60*60, 4<<10, 1024),
	scheme("LARGE_HOURLY_XSPARSE", "yyyyMMdd-HH'LX'", 60*60, 2<<10, 1<<20),
	scheme("HUGE_DAILY_XSPARSE", "yyyyMMdd'HX'", 24*60*60, 16<<10, 1<<20),

	// short cycles and small indexes for tests
	scheme("TEST_SECONDLY", "yyyyMMdd-HHmmss'T'", 1, 32<<10, 4),
	scheme("TEST4_SECONDLY", "yyyyMMdd-HHmmss'T4'", 1, 32, 4),
	scheme("TEST_HOURLY", "yyyyMMdd-HH'T'", 60*60, 16, 4),
	scheme("TEST_DAILY", "yyyyMMdd'T1'", 24*60*60, 8, 1),
	scheme("TEST2_DAILY", "yyyyMMdd'T2'", 24*60*60, 16, 2),
	scheme("TEST4_DAILY", "yyyyMMdd'T4'", 24*60*60, 32, 4),
	scheme("TEST8_DAILY", "yyyyMMdd'T8'", 24*60*60, 128, 8),
}

// Lookup returns the scheme registered under name. Names are case sensitive.
func Lookup(name string) (Scheme, error) {
	for _, s := range catalogue {
		if s.Name == name {
			return s, nil
		}
	}
	return Scheme{}, &SchemeError{Name: name, Err: ErrUnknownScheme}
}

// Valid reports whether name is a known scheme.
func Valid(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

// Names returns every scheme name in catalogue order.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for _, s := range catalogue {
		names = append(names, s.Name)
	}
	return names
}

// All returns a copy of the catalogue.
func All() []Scheme {
	return slices.Clone(catalogue)
}

// Cycle returns the cycle containing t. Times before the epoch map to cycle 0.
func (s Scheme) Cycle(t time.Time) uint64 {
	d := t.Sub(s.Epoch)
	if d < 0 || s.Length <= 0 {
		return 0
	}
	return uint64(d / s.Length)
}

// CycleStart returns the first instant of cycle.
func (s Scheme) CycleStart(cycle uint64) time.Time {
	return s.Epoch.Add(time.Duration(cycle) * s.Length).UTC()
}

// FormatTime renders t with the scheme's date pattern.
func (s Scheme) FormatTime(t time.Time) string {
	return s.compiled().Format(t)
}

// FileName returns the segment file name for cycle, e.g. "20260101.cq4" for DAILY.
func (s Scheme) FileName(cycle uint64) string {
	return s.FormatTime(s.CycleStart(cycle)) + SegmentExt
}

func (s Scheme) compiled() *Pattern {
	if s.pattern != nil {
		return s.pattern
	}
	return MustCompilePattern(s.Format)
}

// IsZero reports whether s is the zero Scheme.
func (s Scheme) IsZero() bool {
	return s.Name == ""
}
