package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	goulog "github.com/julianstephens/go-utils/logger"
)

// Level names accepted by ParseLevel.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel normalizes s to one of the level names. An empty string is info.
func ParseLevel(s string) (string, error) {
	lvl := strings.ToLower(strings.TrimSpace(s))
	if lvl == "" {
		return LevelInfo, nil
	}
	if lvl == "warning" {
		lvl = LevelWarn
	}
	if _, ok := levelRank[lvl]; !ok {
		return "", wrapLoggerErr("parse level", ErrInvalidLevel, fmt.Errorf("unknown level %q", s), "")
	}
	return lvl, nil
}

func enabled(min, lvl string) bool {
	return levelRank[lvl] >= levelRank[min]
}

// ConsoleLogger writes one line per entry to stdout, errors to stderr.
type ConsoleLogger struct {
	minLevel string
	out      io.Writer
	err      io.Writer
}

// NewConsoleLogger returns a console logger filtering below level.
// Unknown levels fall back to info.
func NewConsoleLogger(level string) Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = LevelInfo
	}
	return &ConsoleLogger{
		minLevel: lvl,
		out:      os.Stdout,
		err:      os.Stderr,
	}
}

// SetOutput redirects regular and error entries.
func (cl *ConsoleLogger) SetOutput(out, err io.Writer) {
	cl.out = out
	cl.err = err
}

func (cl *ConsoleLogger) Debug(msg string, fields ...interface{}) {
	if enabled(cl.minLevel, LevelDebug) {
		cl.log("DEBUG", msg, fields...)
	}
}

func (cl *ConsoleLogger) Info(msg string, fields ...interface{}) {
	if enabled(cl.minLevel, LevelInfo) {
		cl.log("INFO", msg, fields...)
	}
}

func (cl *ConsoleLogger) Warn(msg string, fields ...interface{}) {
	if enabled(cl.minLevel, LevelWarn) {
		cl.log("WARN", msg, fields...)
	}
}

// Error is never filtered.
func (cl *ConsoleLogger) Error(msg string, err error, fields ...interface{}) {
	cl.log("ERROR", msg, append([]interface{}{"error", err}, fields...)...)
}

func (cl *ConsoleLogger) log(level string, msg string, fields ...interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", time.Now().Format("2006-01-02T15:04:05.000Z07:00"), level, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')

	w := cl.out
	if level == "ERROR" {
		w = cl.err
	}
	fmt.Fprint(w, b.String()) // nolint:errcheck
}

// FileLogger writes JSON entries to a rotating file through go-utils/logger.
type FileLogger struct {
	underlying *goulog.Logger
	minLevel   string
	filePath   string
}

// FileConfig controls NewFileLogger.
type FileConfig struct {
	Dir        string // created if missing
	FileName   string // e.g. "rollq.log"
	Level      string
	MaxSizeMB  int // size per file before rotation
	MaxBackups int // 0 keeps every rotated file
	MaxAgeDays int // 0 disables age based removal
}

// NewFileLogger creates a rotating file logger. Rotated files are compressed.
func NewFileLogger(cfg FileConfig) (Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if err := helpers.Ensure(cfg.Dir, true); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, cfg.Dir)
	}

	logPath := filepath.Join(cfg.Dir, cfg.FileName)
	underlying := goulog.New()
	if err := underlying.SetFileOutputWithConfig(goulog.FileRotationConfig{
		Filename:   logPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: optionalInt(cfg.MaxBackups),
		MaxAge:     optionalInt(cfg.MaxAgeDays),
		Compress:   true,
	}); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, cfg.Dir)
	}

	return &FileLogger{
		underlying: underlying,
		minLevel:   lvl,
		filePath:   logPath,
	}, nil
}

// optionalInt maps an unset limit to nil, which go-utils treats as disabled.
func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

// Path returns the active log file.
func (fl *FileLogger) Path() string {
	return fl.filePath
}

func (fl *FileLogger) Debug(msg string, fields ...interface{}) {
	if !enabled(fl.minLevel, LevelDebug) {
		return
	}
	if len(fields) == 0 {
		fl.underlying.Debug(msg)
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Debug(msg)
}

func (fl *FileLogger) Info(msg string, fields ...interface{}) {
	if !enabled(fl.minLevel, LevelInfo) {
		return
	}
	if len(fields) == 0 {
		fl.underlying.Info(msg)
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Info(msg)
}

func (fl *FileLogger) Warn(msg string, fields ...interface{}) {
	if !enabled(fl.minLevel, LevelWarn) {
		return
	}
	if len(fields) == 0 {
		fl.underlying.Warn(msg)
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Warn(msg)
}

func (fl *FileLogger) Error(msg string, err error, fields ...interface{}) {
	fl.underlying.WithFields(fieldsToMap(append([]interface{}{"error", err}, fields...))).Error(msg)
}

// Close is a no-op; go-utils/logger owns the rotating writer.
func (fl *FileLogger) Close() error {
	return nil
}

// fieldsToMap pairs up key, value arguments. A trailing odd key is dropped.
func fieldsToMap(fields []interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		result[fmt.Sprintf("%v", fields[i])] = fields[i+1]
	}
	return result
}

// MultiLogger fans every entry out to each wrapped logger.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) Logger {
	return &MultiLogger{loggers: loggers}
}

func (ml *MultiLogger) Debug(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Debug(msg, fields...)
	}
}

func (ml *MultiLogger) Info(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Info(msg, fields...)
	}
}

func (ml *MultiLogger) Warn(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Warn(msg, fields...)
	}
}

func (ml *MultiLogger) Error(msg string, err error, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Error(msg, err, fields...)
	}
}

// Close closes every Closeable logger, even after a failure, and joins the errors.
func (ml *MultiLogger) Close() error {
	var errs []error
	for _, lg := range ml.loggers {
		if c, ok := lg.(Closeable); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return wrapLoggerErr("close multi logger", ErrLogClose, errors.Join(errs...), "")
}
