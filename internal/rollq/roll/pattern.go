package roll

import (
	"strconv"
	"strings"
	"time"
)

type fieldKind uint8

const (
	fieldLiteral fieldKind = iota
	fieldYear
	fieldMonth
	fieldDay
	fieldHour
	fieldMinute
	fieldSecond
)

type patternPart struct {
	kind  fieldKind
	width int
	text  string
}

// Pattern is a compiled Java-style date pattern restricted to the letters the
// roll schemes use: y M d H m s, plus single-quoted literals.
type Pattern struct {
	src   string
	parts []patternPart
}

// CompilePattern parses src into a Pattern.
func CompilePattern(src string) (*Pattern, error) {
	p := &Pattern{src: src}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'':
			end := strings.IndexByte(src[i+1:], '\'')
			if end < 0 {
				return nil, &PatternError{Pattern: src, At: i, Err: ErrBadPattern}
			}
			lit := src[i+1 : i+1+end]
			if lit == "" {
				// '' is an escaped quote
				lit = "'"
			}
			p.parts = append(p.parts, patternPart{kind: fieldLiteral, text: lit})
			i += end + 2
		case isPatternLetter(c):
			j := i
			for j < len(src) && src[j] == c {
				j++
			}
			kind, ok := letterKind(c)
			if !ok {
				return nil, &PatternError{Pattern: src, At: i, Err: ErrBadPattern}
			}
			p.parts = append(p.parts, patternPart{kind: kind, width: j - i})
			i = j
		default:
			p.parts = append(p.parts, patternPart{kind: fieldLiteral, text: string(c)})
			i++
		}
	}
	return p, nil
}

// MustCompilePattern is CompilePattern for static patterns.
func MustCompilePattern(src string) *Pattern {
	p, err := CompilePattern(src)
	if err != nil {
		panic(err)
	}
	return p
}

func isPatternLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func letterKind(c byte) (fieldKind, bool) {
	switch c {
	case 'y':
		return fieldYear, true
	case 'M':
		return fieldMonth, true
	case 'd':
		return fieldDay, true
	case 'H':
		return fieldHour, true
	case 'm':
		return fieldMinute, true
	case 's':
		return fieldSecond, true
	default:
		return fieldLiteral, false
	}
}

// Format renders t (converted to UTC) with the pattern.
func (p *Pattern) Format(t time.Time) string {
	t = t.UTC()
	var b strings.Builder
	for _, part := range p.parts {
		switch part.kind {
		case fieldLiteral:
			b.WriteString(part.text)
		case fieldYear:
			year := t.Year()
			if part.width == 2 {
				year %= 100
			}
			writePadded(&b, year, part.width)
		case fieldMonth:
			writePadded(&b, int(t.Month()), part.width)
		case fieldDay:
			writePadded(&b, t.Day(), part.width)
		case fieldHour:
			writePadded(&b, t.Hour(), part.width)
		case fieldMinute:
			writePadded(&b, t.Minute(), part.width)
		case fieldSecond:
			writePadded(&b, t.Second(), part.width)
		}
	}
	return b.String()
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.src }

func writePadded(b *strings.Builder, v, width int) {
	s := strconv.Itoa(v)
	for i := len(s); i < width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
}
