package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
)

type failingCloser struct {
	NoOpLogger
	closed bool
}

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func newBufferedConsole(level string) (*ConsoleLogger, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &ConsoleLogger{minLevel: level, out: out, err: errOut}, out, errOut
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				tst.AssertTrue(t, errors.Is(err, ErrInvalidLevel), "expected ErrInvalidLevel")
				return
			}
			tst.RequireNoError(t, err)
			tst.RequireDeepEqual(t, got, tt.want)
		})
	}
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{LevelDebug, []string{"DEBUG", "INFO", "WARN"}, nil},
		{LevelInfo, []string{"INFO", "WARN"}, []string{"DEBUG"}},
		{LevelWarn, []string{"WARN"}, []string{"DEBUG", "INFO"}},
		{LevelError, nil, []string{"DEBUG", "INFO", "WARN"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cl, out, _ := newBufferedConsole(tt.level)
			cl.Debug("d")
			cl.Info("i")
			cl.Warn("w")
			for _, s := range tt.visible {
				tst.AssertTrue(t, strings.Contains(out.String(), s+":"), "expected "+s+" in output")
			}
			for _, s := range tt.hidden {
				tst.AssertFalse(t, strings.Contains(out.String(), s+":"), "expected "+s+" hidden")
			}
		})
	}
}

func TestConsoleLogger_ErrorAlwaysToStderr(t *testing.T) {
	cl, out, errOut := newBufferedConsole(LevelError)

	cl.Error("append failed", errors.New("disk full"), "dir", "/q")

	tst.AssertTrue(t, out.Len() == 0, "expected nothing on stdout")
	line := errOut.String()
	tst.AssertTrue(t, strings.Contains(line, "ERROR: append failed"), "expected message on stderr")
	tst.AssertTrue(t, strings.Contains(line, "error=disk full"), "expected error field")
	tst.AssertTrue(t, strings.Contains(line, "dir=/q"), "expected dir field")
}

func TestConsoleLogger_Fields(t *testing.T) {
	cl, out, _ := newBufferedConsole(LevelInfo)

	cl.Info("segment rolled", "cycle", 7, "file", "20260101.cq4", "dangling")

	line := out.String()
	tst.AssertTrue(t, strings.HasPrefix(line, "["), "expected timestamp prefix")
	tst.AssertTrue(t, strings.Contains(line, "cycle=7"), "expected cycle field")
	tst.AssertTrue(t, strings.Contains(line, "file=20260101.cq4"), "expected file field")
	tst.AssertFalse(t, strings.Contains(line, "dangling"), "expected odd trailing key dropped")
	tst.AssertTrue(t, strings.HasSuffix(line, "\n"), "expected newline terminated entry")
}

func TestNewConsoleLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	cl, ok := NewConsoleLogger("loud").(*ConsoleLogger)
	tst.AssertTrue(t, ok, "expected *ConsoleLogger")
	tst.RequireDeepEqual(t, cl.minLevel, LevelInfo)
}

func TestFileLogger_WritesToRotatingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "nested")
	lg, err := NewFileLogger(FileConfig{Dir: dir, FileName: "rollq.log", MaxSizeMB: 1, MaxBackups: 1})
	tst.RequireNoError(t, err)

	lg.Info("queue opened", "dir", "/tmp/q")

	fl, ok := lg.(*FileLogger)
	tst.AssertTrue(t, ok, "expected *FileLogger")
	tst.RequireDeepEqual(t, fl.Path(), filepath.Join(dir, "rollq.log"))

	content, err := os.ReadFile(fl.Path()) // nolint:gosec
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, strings.Contains(string(content), "queue opened"), "expected message in file")
	tst.RequireNoError(t, fl.Close())
}

func TestFileLogger_FiltersBelowLevel(t *testing.T) {
	dir := t.TempDir()
	lg, err := NewFileLogger(FileConfig{Dir: dir, FileName: "rollq.log", Level: LevelWarn, MaxSizeMB: 1})
	tst.RequireNoError(t, err)

	lg.Info("hidden entry")
	lg.Warn("visible entry")

	content, err := os.ReadFile(filepath.Join(dir, "rollq.log")) // nolint:gosec
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, strings.Contains(string(content), "hidden entry"), "expected info filtered")
	tst.AssertTrue(t, strings.Contains(string(content), "visible entry"), "expected warn written")
}

func TestNewFileLogger_InvalidLevel(t *testing.T) {
	_, err := NewFileLogger(FileConfig{Dir: t.TempDir(), FileName: "rollq.log", Level: "verbose"})
	tst.AssertTrue(t, errors.Is(err, ErrInvalidLevel), "expected ErrInvalidLevel")
}

func TestMultiLogger_FansOut(t *testing.T) {
	a, outA, errA := newBufferedConsole(LevelDebug)
	b, outB, _ := newBufferedConsole(LevelInfo)
	ml := NewMultiLogger(a, b)

	ml.Debug("only a")
	ml.Info("both")
	ml.Error("failed", errors.New("boom"))

	tst.AssertTrue(t, strings.Contains(outA.String(), "only a"), "expected debug in a")
	tst.AssertFalse(t, strings.Contains(outB.String(), "only a"), "expected debug filtered in b")
	tst.AssertTrue(t, strings.Contains(outB.String(), "both"), "expected info in b")
	tst.AssertTrue(t, strings.Contains(errA.String(), "error=boom"), "expected error in a")
}

func TestMultiLogger_CloseWithoutErrors(t *testing.T) {
	ml := NewMultiLogger(NoOpLogger{}, &ConsoleLogger{minLevel: LevelInfo})

	c, ok := ml.(Closeable)
	tst.AssertTrue(t, ok, "expected MultiLogger to be Closeable")
	tst.RequireNoError(t, c.Close())
}

func TestMultiLogger_CloseReportsFailure(t *testing.T) {
	first := &failingCloser{}
	second := &failingCloser{}
	ml := NewMultiLogger(first, second)

	err := ml.(Closeable).Close()
	tst.AssertTrue(t, errors.Is(err, ErrLogClose), "expected ErrLogClose")
	tst.AssertTrue(t, strings.Contains(err.Error(), "close failed"), "expected cause in message")
	tst.AssertTrue(t, first.closed && second.closed, "expected every logger closed")
}

func TestOptionalInt(t *testing.T) {
	tst.AssertTrue(t, optionalInt(0) == nil, "zero maps to nil")
	tst.AssertTrue(t, optionalInt(-1) == nil, "negative maps to nil")
	v := optionalInt(7)
	tst.AssertTrue(t, v != nil, "positive maps to a pointer")
	tst.RequireDeepEqual(t, *v, 7)
}

func TestFileLogger_WithRetentionLimits(t *testing.T) {
	dir := t.TempDir()
	lg, err := NewFileLogger(FileConfig{
		Dir:        dir,
		FileName:   "rollq.log",
		MaxSizeMB:  1,
		MaxBackups: 2,
		MaxAgeDays: 7,
	})
	tst.RequireNoError(t, err)

	lg.Warn("retention configured")
	content, err := os.ReadFile(filepath.Join(dir, "rollq.log")) // nolint:gosec
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, strings.Contains(string(content), "retention configured"), "expected entry in file")
}
