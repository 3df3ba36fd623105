package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/rollq/internal/cli"
	"github.com/julianstephens/rollq/internal/logger"
	"github.com/julianstephens/rollq/internal/rollq"
)

var (
	version = "rollq v0.1.0"
)

type LogOpts struct {
	Level      string `help:"Logging level (debug, info, warn, error)" default:"${log_level}" envvar:"ROLLQ_LOG_LEVEL"`
	Debug      bool   `help:"Enable debug logging (overrides --log-level)"            envvar:"ROLLQ_DEBUG"`
	Stream     bool   `help:"Log to stderr only, without a log file"                  envvar:"ROLLQ_LOG_STREAM"`
	Dir        string `help:"Log file directory (default ~/.rollq/logs)"              envvar:"ROLLQ_LOG_DIR"`
	MaxSize    int    `help:"Log file size in MB before rotation"                     envvar:"ROLLQ_LOG_MAX_SIZE"    default:"${log_max_size}"`
	MaxBackups int    `help:"Rotated log files to keep"                               envvar:"ROLLQ_LOG_MAX_BACKUPS" default:"${log_max_backups}"`
}

type CLI struct {
	Init    cli.InitCmd    `cmd:"" help:"Create a new queue"`
	Append  cli.AppendCmd  `cmd:"" help:"Append records"`
	Tail    cli.TailCmd    `cmd:"" help:"Print records from an index onwards"`
	Peek    cli.PeekCmd    `cmd:"" help:"Show queue diagnostics"`
	Prune   cli.PruneCmd   `cmd:"" help:"Remove old segments"`
	Schemes cli.SchemesCmd `cmd:"" help:"List roll schemes"`

	LogOpts LogOpts          `embed:"" prefix:"log-" help:"Logging options"`
	Version kong.VersionFlag `                       help:"Show version information" short:"V"`
}

func createLogger(opts LogOpts) (logger.Logger, error) {
	level := opts.Level
	if opts.Debug {
		level = logger.LevelDebug
	}
	if _, err := logger.ParseLevel(level); err != nil {
		return nil, err
	}

	// console output goes to stderr so record output on stdout stays clean
	console := logger.NewConsoleLogger(level)
	if c, ok := console.(*logger.ConsoleLogger); ok {
		c.SetOutput(os.Stderr, os.Stderr)
	}
	if opts.Stream {
		return console, nil
	}

	logDir := opts.Dir
	if logDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logDir = filepath.Join(home, rollq.DefaultAppDir, rollq.DefaultLogDir)
	}
	file, err := logger.NewFileLogger(logger.FileConfig{
		Dir:        logDir,
		FileName:   rollq.DefaultLogFileName,
		Level:      level,
		MaxSizeMB:  opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAgeDays: rollq.DefaultLogMaxAge,
	})
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(file, console), nil
}

func main() {
	cliApp := &CLI{}
	ctx := kong.Parse(cliApp,
		kong.Name("rollq"),
		kong.Description("A rolling, memory-mapped, append-only record queue"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version":         version,
			"log_level":       rollq.DefaultLogLevel,
			"log_max_size":    strconv.Itoa(rollq.DefaultLogMaxSize),
			"log_max_backups": strconv.Itoa(rollq.DefaultLogMaxBackups),
		},
	)

	lg, err := createLogger(cliApp.LogOpts)
	ctx.FatalIfErrorf(err)
	defer func() {
		if c, ok := lg.(logger.Closeable); ok {
			_ = c.Close()
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = ctx.Run(&cli.Globals{
		Logger:  lg,
		Out:     os.Stdout,
		In:      os.Stdin,
		Context: sigCtx,
	})
	if err != nil {
		stop()
		if c, ok := lg.(logger.Closeable); ok {
			_ = c.Close()
		}
		// commands already reported the failure
		os.Exit(1)
	}
}
