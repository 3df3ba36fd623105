package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/julianstephens/go-utils/cliutil"

	"github.com/julianstephens/rollq/internal/logger"
	"github.com/julianstephens/rollq/internal/rollq"
	"github.com/julianstephens/rollq/internal/rollq/queue"
	"github.com/julianstephens/rollq/internal/rollq/roll"
)

// ErrInvalidArgs is returned when flags are individually valid but conflict.
var ErrInvalidArgs = errors.New("invalid arguments")

// Globals is bound into every command's Run.
type Globals struct {
	Logger logger.Logger
	Out    io.Writer
	In     io.Reader
	// Context bounds blocking commands such as tail --follow.
	Context context.Context
}

func (g *Globals) ctx() context.Context {
	if g.Context == nil {
		return context.Background()
	}
	return g.Context
}

// QueueArg is the positional queue directory shared by commands.
type QueueArg struct {
	Dir string `arg:"" help:"Queue directory" type:"path"`
}

func openQueue(g *Globals, dir string, opts rollq.Options) (*queue.Queue, error) {
	q := queue.NewWithOptions(dir, opts, g.Logger)
	if err := q.Open(); err != nil {
		cliutil.PrintError(fmt.Sprintf("open %s: %v", dir, err))
		return nil, err
	}
	return q, nil
}

func closeQueue(q *queue.Queue, err *error) {
	if cerr := q.Close(); *err == nil {
		*err = cerr
	}
}

// InitCmd creates a new queue.
type InitCmd struct {
	QueueArg
	Scheme  string `help:"Roll scheme" default:"DAILY" envvar:"ROLLQ_ROLL_SCHEME"`
	Version int    `help:"Format version (4 or 5)" default:"5" envvar:"ROLLQ_VERSION"`
}

func (c *InitCmd) Run(g *Globals) (err error) {
	q := queue.NewWithOptions(c.Dir, rollq.DefaultOptions(), g.Logger)
	if err := q.SetVersion(c.Version); err != nil {
		cliutil.PrintError(err.Error())
		return err
	}
	if err := q.SetRollScheme(c.Scheme); err != nil {
		cliutil.PrintError(err.Error())
		return err
	}
	if err := q.SetCreate(true); err != nil {
		cliutil.PrintError(err.Error())
		return err
	}
	if err := q.Open(); err != nil {
		cliutil.PrintError(fmt.Sprintf("init %s: %v", c.Dir, err))
		return err
	}
	defer closeQueue(q, &err)

	info := q.Peek()
	fmt.Fprintf(g.Out, "initialized %s (version %d, roll scheme %s)\n", info.Dir, info.Version, info.RollScheme) // nolint:errcheck
	return nil
}

// AppendCmd appends records given as arguments, or one per stdin line.
type AppendCmd struct {
	QueueArg
	Records  []string `arg:"" optional:"" help:"Records to append; read from stdin when omitted"`
	Compress string   `help:"Payload compression (none, s2)" default:"none" enum:"none,s2"`
	Sync     bool     `help:"msync every record before returning"`
}

func (c *AppendCmd) Run(g *Globals) (err error) {
	opts := rollq.DefaultOptions()
	if opts.Compression, err = rollq.ParseCompression(c.Compress); err != nil {
		cliutil.PrintError(err.Error())
		return err
	}
	opts.SyncOnAppend = c.Sync

	q, err := openQueue(g, c.Dir, opts)
	if err != nil {
		return err
	}
	defer closeQueue(q, &err)

	add := func(payload []byte) error {
		idx, err := q.Append(payload)
		if err != nil {
			cliutil.PrintError(fmt.Sprintf("append: %v (status %s)", err, queue.Code(err)))
			return err
		}
		fmt.Fprintf(g.Out, "%d\n", idx) // nolint:errcheck
		return nil
	}

	if len(c.Records) > 0 {
		for _, r := range c.Records {
			if err := add([]byte(r)); err != nil {
				return err
			}
		}
		return nil
	}

	sc := bufio.NewScanner(g.In)
	sc.Buffer(make([]byte, 0, 64*1024), opts.MaxPayload)
	for sc.Scan() {
		if err := add(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		cliutil.PrintError(fmt.Sprintf("read stdin: %v", err))
		return err
	}
	return nil
}

// TailCmd prints records from an index onwards.
type TailCmd struct {
	QueueArg
	From    uint64        `help:"First index to read; 0 starts at the lowest retained index" default:"0"`
	Limit   int           `help:"Stop after this many records; 0 means no limit" default:"0"`
	Follow  bool          `help:"Keep waiting for new records" short:"f"`
	Timeout time.Duration `help:"With --follow, stop after waiting this long for a record" default:"0s"`
}

func (c *TailCmd) Run(g *Globals) (err error) {
	if c.Timeout > 0 && !c.Follow {
		cliutil.PrintError("--timeout requires --follow")
		return ErrInvalidArgs
	}

	q, err := openQueue(g, c.Dir, rollq.DefaultOptions())
	if err != nil {
		return err
	}
	defer closeQueue(q, &err)

	t, err := q.Tailer(c.From)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("tail: %v", err))
		return err
	}
	defer t.Close() // nolint:errcheck

	for n := 0; c.Limit == 0 || n < c.Limit; n++ {
		rec, ok, err := c.next(g.ctx(), t)
		if err != nil {
			cliutil.PrintError(fmt.Sprintf("tail: %v (status %s)", err, queue.Code(err)))
			return err
		}
		if !ok {
			return nil
		}
		fmt.Fprintf(g.Out, "%d\t%s\n", rec.Index, rec.Payload) // nolint:errcheck
	}
	return nil
}

func (c *TailCmd) next(ctx context.Context, t *queue.Tailer) (queue.Record, bool, error) {
	if !c.Follow {
		return t.TryCollect()
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	rec, err := t.Collect(ctx)
	if errors.Is(err, queue.ErrNoData) {
		return queue.Record{}, false, nil
	}
	return rec, err == nil, err
}

// PeekCmd prints a diagnostic dump of the queue.
type PeekCmd struct {
	QueueArg
}

func (c *PeekCmd) Run(g *Globals) (err error) {
	q, err := openQueue(g, c.Dir, rollq.DefaultOptions())
	if err != nil {
		return err
	}
	defer closeQueue(q, &err)

	fmt.Fprint(g.Out, q.Peek().String()) // nolint:errcheck
	return nil
}

// PruneCmd removes segments whose cycle lies before a cutoff.
type PruneCmd struct {
	QueueArg
	Cycle  uint64 `help:"Remove segments with a cycle below this one" xor:"cutoff"`
	Before string `help:"Remove segments whose cycle starts before this RFC 3339 time" xor:"cutoff"`
}

func (c *PruneCmd) Run(g *Globals) (err error) {
	if c.Cycle == 0 && c.Before == "" {
		cliutil.PrintError("one of --cycle or --before is required")
		return ErrInvalidArgs
	}
	var before time.Time
	if c.Before != "" {
		if before, err = time.Parse(time.RFC3339, c.Before); err != nil {
			cliutil.PrintError(fmt.Sprintf("--before: %v", err))
			return err
		}
	}

	q, err := openQueue(g, c.Dir, rollq.DefaultOptions())
	if err != nil {
		return err
	}
	defer closeQueue(q, &err)

	cycle := c.Cycle
	if c.Before != "" {
		s, err := roll.Lookup(q.RollScheme())
		if err != nil {
			cliutil.PrintError(err.Error())
			return err
		}
		cycle = s.Cycle(before)
	}

	n, err := q.PruneBefore(cycle)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("prune: %v (status %s)", err, queue.Code(err)))
		return err
	}
	fmt.Fprintf(g.Out, "pruned %d segment(s) before cycle %d\n", n, cycle) // nolint:errcheck
	return nil
}

// SchemesCmd lists the roll schemes.
type SchemesCmd struct{}

func (c *SchemesCmd) Run(g *Globals) error {
	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFORMAT\tLENGTH\tEXAMPLE") // nolint:errcheck
	now := time.Now().UTC()
	for _, s := range roll.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Format, s.Length, s.FileName(s.Cycle(now))) // nolint:errcheck
	}
	return w.Flush()
}
