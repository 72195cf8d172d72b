// Package shell provides an interactive command line over a sample history.
//
// Stamps are entered and printed in seconds. Interactive terminals get a
// prompt with command completion; anything else is read as a script, one
// command per line.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/timering/config"
	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage/aggregate"
	"github.com/xtxerr/timering/internal/storage/buffer"
	"github.com/xtxerr/timering/internal/storage/types"
)

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit")

type command struct {
	name  string
	args  string
	usage string
	run   func(s *Shell, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"insert", "<sec> <v...>", "append a sample", (*Shell).insert},
		{"nearest", "<sec>", "sample closest to a stamp", (*Shell).nearest},
		{"between", "<sec> <sec>", "samples in a range, interpolated at the ends", (*Shell).between},
		{"oldest", "", "oldest value", (*Shell).oldest},
		{"newest", "", "newest value", (*Shell).newest},
		{"bounds", "", "oldest and newest stamp", (*Shell).bounds},
		{"times", "", "all stamps", (*Shell).times},
		{"evict-before", "<sec>", "drop samples before a stamp", (*Shell).evictBefore},
		{"evict-older", "<sec>", "keep only samples within an age of the newest", (*Shell).evictOlder},
		{"stats", "", "buffer statistics", (*Shell).stats},
		{"summary", "[<sec> <sec>]", "count, min/max/avg and percentiles over a range or everything", (*Shell).summary},
		{"help", "", "list commands", (*Shell).help},
		{"exit", "", "leave the shell", func(*Shell, []string) error { return ErrExit }},
	}
}

// Shell executes commands against a history.
type Shell struct {
	history  buffer.History[float64]
	insertFn func(stamp int64, value []float64) error
	accuracy float64
	out      io.Writer
}

// Option configures a Shell.
type Option func(*Shell)

// WithInserter routes insert through fn instead of History.Insert, e.g. to
// log inserts before they reach the history.
func WithInserter(fn func(stamp int64, value []float64) error) Option {
	return func(s *Shell) { s.insertFn = fn }
}

// WithAccuracy sets the relative accuracy of summary percentiles.
func WithAccuracy(accuracy float64) Option {
	return func(s *Shell) { s.accuracy = accuracy }
}

// New creates a shell writing results to out.
func New(h buffer.History[float64], out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		history:  h,
		insertFn: h.Insert,
		accuracy: config.DefaultSketchAccuracy,
		out:      out,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exec runs one command line. Blank lines and lines starting with '#' are
// ignored.
func (s *Shell) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	name := fields[0]
	if name == "quit" {
		name = "exit"
	}
	for _, c := range commands {
		if c.name == name {
			return c.run(s, fields[1:])
		}
	}
	return fmt.Errorf("%q, try help: %w", fields[0], errors.ErrInvalidCommand)
}

// Run reads commands from in until exit or end of input. A terminal gets
// the interactive prompt; other inputs are run as a script.
func (s *Shell) Run(in *os.File) error {
	if term.IsTerminal(int(in.Fd())) {
		s.RunInteractive()
		return nil
	}
	return s.RunScript(in)
}

// RunInteractive runs a prompt with command completion until exit or
// Ctrl-D. Errors are printed and do not end the session.
func (s *Shell) RunInteractive() {
	fmt.Fprintln(s.out, "timering shell, type help for commands")
	p := prompt.New(
		func(line string) {
			if err := s.Exec(line); err != nil && err != ErrExit {
				fmt.Fprintln(s.out, "error:", err)
			}
		},
		s.complete,
		prompt.OptionPrefix("ring> "),
		prompt.OptionTitle("timering"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			f := strings.Fields(in)
			return breakline && len(f) > 0 && (f[0] == "exit" || f[0] == "quit")
		}),
	)
	p.Run()
}

// RunScript executes one command per line and stops at the first error,
// which is returned with its line number.
func (s *Shell) RunScript(r io.Reader) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		if err := s.Exec(sc.Text()); err != nil {
			if err == ErrExit {
				return nil
			}
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return sc.Err()
}

func (s *Shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	if strings.ContainsAny(before, " \t") {
		return nil
	}
	suggests := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggests = append(suggests, prompt.Suggest{Text: c.name, Description: c.usage})
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

// =============================================================================
// Commands
// =============================================================================

func (s *Shell) insert(args []string) error {
	if len(args) < 2 {
		return usage("insert")
	}
	stamp, err := parseStamp(args[0])
	if err != nil {
		return err
	}
	value := make([]float64, len(args)-1)
	for i, a := range args[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
		value[i] = v
	}
	return s.insertFn(stamp, value)
}

func (s *Shell) nearest(args []string) error {
	if len(args) != 1 {
		return usage("nearest")
	}
	stamp, err := parseStamp(args[0])
	if err != nil {
		return err
	}
	at, value, ok := s.history.NearestValue(stamp)
	if !ok {
		fmt.Fprintln(s.out, "empty")
		return nil
	}
	fmt.Fprintf(s.out, "%s %s\n", formatStamp(at), formatValue(value))
	return nil
}

func (s *Shell) between(args []string) error {
	start, end, err := parseRange("between", args)
	if err != nil {
		return err
	}
	series := s.history.BetweenValuesInterpolated(start, end)
	if series.IsEmpty() {
		fmt.Fprintln(s.out, "no samples in range")
		return nil
	}
	for i := range series.Stamps {
		fmt.Fprintf(s.out, "%s %s\n", formatStamp(series.Stamps[i]), formatValue(series.Values[i]))
	}
	return nil
}

func (s *Shell) oldest(args []string) error {
	return s.printValue(s.history.OldestValue())
}

func (s *Shell) newest(args []string) error {
	return s.printValue(s.history.NewestValue())
}

func (s *Shell) printValue(value []float64, ok bool) error {
	if !ok {
		fmt.Fprintln(s.out, "empty")
		return nil
	}
	fmt.Fprintln(s.out, formatValue(value))
	return nil
}

func (s *Shell) bounds(args []string) error {
	newest, oldest, ok := s.history.OldestAndNewestStamp()
	if !ok {
		fmt.Fprintln(s.out, "empty")
		return nil
	}
	fmt.Fprintf(s.out, "oldest=%s newest=%s span=%v\n",
		formatStamp(oldest), formatStamp(newest), buffer.Span(oldest, newest))
	return nil
}

func (s *Shell) times(args []string) error {
	stamps := s.history.Times()
	parts := make([]string, len(stamps))
	for i, st := range stamps {
		parts[i] = formatStamp(st)
	}
	fmt.Fprintln(s.out, strings.Join(parts, " "))
	return nil
}

func (s *Shell) evictBefore(args []string) error {
	if len(args) != 1 {
		return usage("evict-before")
	}
	stamp, err := parseStamp(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "evicted %d\n", s.history.RemoveDataBeforeTimestamp(stamp))
	return nil
}

func (s *Shell) evictOlder(args []string) error {
	if len(args) != 1 {
		return usage("evict-older")
	}
	age, err := parseStamp(args[0])
	if err != nil {
		return err
	}
	if age < 0 {
		return fmt.Errorf("age must be non-negative: %w", errors.ErrInvalidCommand)
	}
	fmt.Fprintf(s.out, "evicted %d\n", s.history.RemoveDataOlderThan(time.Duration(age)))
	return nil
}

func (s *Shell) stats(args []string) error {
	st := s.history.Stats()
	fmt.Fprintf(s.out, "count=%d capacity=%d dim=%d usage=%.1f%%\n",
		st.Count, st.Capacity, st.Dim, st.UsageRatio*100)
	fmt.Fprintf(s.out, "inserted=%d rejected=%d overwritten=%d evicted=%d span=%v\n",
		st.Inserted, st.Rejected, st.Overwritten, st.Evicted, st.Span())
	if g, ok := s.history.(*buffer.Growable[float64]); ok && g.Window() > 0 {
		fmt.Fprintf(s.out, "window=%v\n", g.Window())
	}
	return nil
}

func (s *Shell) summary(args []string) error {
	var (
		res types.AggregateResult
		ok  bool
	)
	if len(args) == 0 {
		res, ok = aggregate.SummarizeAll(s.history, s.accuracy)
	} else {
		start, end, err := parseRange("summary", args)
		if err != nil {
			return err
		}
		res, ok = aggregate.Summarize(s.history, start, end, s.accuracy)
	}
	if !ok {
		fmt.Fprintln(s.out, "no samples in range")
		return nil
	}
	fmt.Fprintf(s.out, "count=%d rate=%.3gHz\n", res.Count, res.Rate())
	for i, c := range res.Components {
		fmt.Fprintf(s.out, "[%d] %s\n", i, formatStats(c))
	}
	fmt.Fprintf(s.out, "interval %s\n", formatStats(res.Interval))
	return nil
}

func (s *Shell) help(args []string) error {
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %-13s %-12s %s\n", c.name, c.args, c.usage)
	}
	return nil
}

// =============================================================================
// Parsing and formatting
// =============================================================================

func usage(name string) error {
	for _, c := range commands {
		if c.name == name {
			return fmt.Errorf("usage: %s %s: %w", c.name, c.args, errors.ErrInvalidCommand)
		}
	}
	return errors.ErrInvalidCommand
}

// parseStamp reads seconds, fractional allowed, as nanoseconds.
func parseStamp(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("stamp %q: %w", s, errors.ErrInvalidCommand)
	}
	ns, ok := types.SecToNanosecChecked(f)
	if !ok {
		return 0, fmt.Errorf("stamp %q out of range: %w", s, errors.ErrInvalidCommand)
	}
	return ns, nil
}

func parseRange(name string, args []string) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, usage(name)
	}
	start, err := parseStamp(args[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseStamp(args[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func formatStamp(ns int64) string {
	return strconv.FormatFloat(float64(ns)/float64(time.Second), 'f', -1, 64) + "s"
}

func formatValue(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatStats(c types.ComponentStats) string {
	out := fmt.Sprintf("min=%g max=%g avg=%g", c.Min, c.Max, c.Avg)
	if c.HasPercentiles() {
		out += fmt.Sprintf(" p50=%.4g p90=%.4g p99=%.4g", *c.P50, *c.P90, *c.P99)
	}
	return out
}
