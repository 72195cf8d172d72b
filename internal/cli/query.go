package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/xtxerr/timering/internal/errors"
	"github.com/xtxerr/timering/internal/storage"
	"github.com/xtxerr/timering/internal/storage/types"
)

// QueryCommand returns the 'query' subcommand.
func QueryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Query exported samples",
		Description: `Prints the samples in [--from, --to] (seconds since the epoch or RFC 3339
times, --to defaults to now), the stored bounds with
--bounds, closed aggregate windows with --aggregates, or the rows of an
arbitrary DuckDB statement with --sql, e.g.
  SELECT count(*) FROM read_parquet('<data-dir>/export/samples_*.parquet')`,
		Flags: []cli.Flag{
			configFlag(),
			dataDirFlag(),
			&cli.StringFlag{Name: "from", Usage: "range start, seconds or RFC 3339", Value: "0"},
			&cli.StringFlag{Name: "to", Usage: "range end, seconds or RFC 3339 (default now)"},
			&cli.BoolFlag{Name: "bounds", Usage: "print oldest and newest stamp"},
			&cli.BoolFlag{Name: "aggregates", Usage: "print aggregate windows in the range"},
			&cli.StringFlag{Name: "sql", Usage: "run a SQL statement"},
		},
		Action: runQuery,
	}
}

func runQuery(ctx context.Context, cmd *cli.Command) error {
	svc, err := openService(cmd, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	switch {
	case cmd.String("sql") != "":
		return printSQL(ctx, svc, cmd.String("sql"))
	case cmd.Bool("bounds"):
		b, ok, err := svc.Bounds(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("empty")
			return nil
		}
		fmt.Printf("oldest=%s newest=%s count=%d\n", secs(b.Oldest), secs(b.Newest), b.Count)
		return nil
	}

	from, err := parseTimeArg(cmd.String("from"))
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to := types.StampFromTime(time.Now())
	if cmd.IsSet("to") {
		if to, err = parseTimeArg(cmd.String("to")); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}

	if cmd.Bool("aggregates") {
		aggs, err := svc.Aggregates(ctx, from, to)
		if err != nil {
			return err
		}
		for _, a := range aggs {
			fmt.Printf("%s [%s, %s) count=%d\n", a.Stream,
				secs(a.Result.WindowStart), secs(a.Result.WindowEnd), a.Result.Count)
		}
		return nil
	}

	series, err := svc.Range(ctx, from, to)
	if err != nil {
		return err
	}
	for i := range series.Stamps {
		vals := make([]string, len(series.Values[i]))
		for j, v := range series.Values[i] {
			vals[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Printf("%s %s\n", secs(series.Stamps[i]), strings.Join(vals, " "))
	}
	return nil
}

func printSQL(ctx context.Context, svc *storage.Service, sql string) error {
	rows, err := svc.QuerySQL(ctx, sql)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no rows")
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	fmt.Println(strings.Join(cols, "\t"))
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = fmt.Sprint(row[c])
		}
		fmt.Println(strings.Join(vals, "\t"))
	}
	return nil
}

func secs(ns int64) string {
	return strconv.FormatFloat(types.NanosecToSec(ns), 'f', -1, 64) + "s"
}

// parseTimeArg reads seconds since the epoch or an RFC 3339 time.
func parseTimeArg(s string) (int64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		ns, ok := types.SecToNanosecChecked(f)
		if !ok {
			return 0, fmt.Errorf("%q out of range: %w", s, errors.ErrInvalidCommand)
		}
		return ns, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither seconds nor RFC 3339: %w", s, errors.ErrInvalidCommand)
	}
	return types.StampFromTime(t), nil
}
