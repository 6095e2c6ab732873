package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/arkilian/dissolve/internal/aggregator"
	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/dissolve"
	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/geometry"
	"github.com/arkilian/dissolve/internal/grouper"
	"github.com/arkilian/dissolve/internal/render"
	"github.com/arkilian/dissolve/internal/service"
	"github.com/arkilian/dissolve/internal/storage"
	"github.com/arkilian/dissolve/internal/tableio"
)

type runOptions struct {
	input        string
	format       string
	table        string
	geometry     string
	crs          string
	categorical  []string
	by           []string
	level        []string
	agg          string
	output       string
	outputFormat string
	maxRows      int
	style        string
	raw          bool
}

func newRunCmd() *cobra.Command {
	var ro runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dissolve a table read from a file or an s3:// location",
		Example: `  dissolve run --input boroughs.csv --by borough --agg pop=sum
  dissolve run --input s3://geo/nybb.json --level 0 --agg 'BoroCode=min+max' --output out.json
  dissolve run --input parcels.sqlite --table parcels --by zone --method coverage --grid-size 0.01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			opts, err := engineOptions(cmd.Flags(), ro, cfg.Dissolve)
			if err != nil {
				return err
			}
			resolver := storage.NewResolver(cfg.Storage.S3.Storage())
			return runDissolve(cmd.Context(), ro, opts, resolver, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&ro.input, "input", "i", "-", "Input path or s3://bucket/key; - reads JSON from stdin")
	f.StringVar(&ro.format, "format", "", "Input format: csv, json, snapshot, sqlite (default: from the extension)")
	f.StringVar(&ro.table, "table", "", "SQLite table to read")
	f.StringVar(&ro.geometry, "geometry", "", "Geometry column of CSV and SQLite inputs (default \"geometry\")")
	f.StringVar(&ro.crs, "crs", "", "CRS tag for inputs that carry none")
	f.StringArrayVar(&ro.categorical, "categorical", nil, "Declare a categorical column as col=a|b|c (repeatable)")
	f.StringSliceVar(&ro.by, "by", nil, "Group by these columns")
	f.StringSliceVar(&ro.level, "level", nil, "Group by these index levels (positions or names)")
	f.StringVar(&ro.agg, "agg", "", "Aggregation: a reducer name, or col=min+max,col2=count")
	f.StringVarP(&ro.output, "output", "o", "", "Write the result to this path or s3:// location")
	f.StringVar(&ro.outputFormat, "output-format", "", "Output format (default: from the output extension)")
	f.IntVar(&ro.maxRows, "max-rows", 50, "Rows shown when rendering to a terminal; 0 shows all")
	f.StringVar(&ro.style, "style", "", "Terminal style: dark, light, notty (default: detect)")
	f.BoolVar(&ro.raw, "raw", false, "Print JSON even when stdout is a terminal")

	f.Bool("as-index", true, "Return group keys as the row index")
	f.Bool("sort", true, "Sort groups by key")
	f.Bool("dropna", true, "Drop rows whose key is missing")
	f.Bool("observed", false, "Only emit observed categorical groups")
	f.Bool("numeric-only", false, "Aggregate numeric columns only")
	f.String("method", "", "Union method: unary, coverage, disjoint_subset")
	f.Float64("grid-size", 0, "Snap union output to this grid; 0 keeps full precision")
	return cmd
}

// engineOptions applies the flags the user set over the configured
// defaults. Flags left at their defaults do not override the config.
func engineOptions(flags *pflag.FlagSet, ro runOptions, defaults config.DissolveConfig) (dissolve.Options, error) {
	var req service.RequestOptions
	boolFlag := func(name string) *bool {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetBool(name)
		return &v
	}
	req.AsIndex = boolFlag("as-index")
	req.Sort = boolFlag("sort")
	req.DropNA = boolFlag("dropna")
	req.Observed = boolFlag("observed")
	req.NumericOnly = boolFlag("numeric-only")
	if flags.Changed("method") {
		m, _ := flags.GetString("method")
		req.Method = &m
	}
	if flags.Changed("grid-size") {
		g, _ := flags.GetFloat64("grid-size")
		req.GridSize = &g
	}

	opts, err := req.Apply(defaults)
	if err != nil {
		return opts, err
	}
	opts.By = ro.by
	opts.Level = parseLevels(ro.level)
	if opts.AggFunc, err = aggregator.ParseAggSpec(ro.agg); err != nil {
		return opts, err
	}
	return opts, nil
}

// parseLevels reads integers as positions and anything else as names.
func parseLevels(raw []string) []grouper.LevelRef {
	var refs []grouper.LevelRef
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil {
			refs = append(refs, grouper.LevelAt(n))
		} else {
			refs = append(refs, grouper.LevelNamed(s))
		}
	}
	return refs
}

func parseCategorical(specs []string) (map[string][]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(specs))
	for _, spec := range specs {
		name, cats, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || cats == "" {
			return nil, dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
				fmt.Sprintf("malformed --categorical %q, want col=a|b|c", spec))
		}
		out[name] = strings.Split(cats, "|")
	}
	return out, nil
}

func runDissolve(ctx context.Context, ro runOptions, opts dissolve.Options, resolver *storage.Resolver, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger = logger.With("run_id", uuid.New().String())

	categorical, err := parseCategorical(ro.categorical)
	if err != nil {
		return err
	}
	readOpts := tableio.ReadOptions{
		Geometry:    ro.geometry,
		CRS:         ro.crs,
		Categorical: categorical,
		Table:       ro.table,
	}

	data, format, err := readInput(ctx, ro, resolver, stdin)
	if err != nil {
		return err
	}
	t, err := tableio.Decode(ctx, data, format, readOpts)
	if err != nil {
		return err
	}
	logger.Debug("table loaded", "input", ro.input, "format", format, "rows", t.NumRows())

	engine := dissolve.New(geometry.NewBackend(), dissolve.WithLogger(logger))
	res, err := engine.Dissolve(ctx, t, opts)
	if err != nil {
		return err
	}
	logger.Info("dissolve finished", "groups", res.Groups, "warnings", len(res.Warnings))

	if ro.output != "" {
		outFormat := tableio.FormatFromPath(ro.output)
		if ro.outputFormat != "" {
			if outFormat, err = tableio.ParseFormat(ro.outputFormat); err != nil {
				return err
			}
		}
		encoded, err := tableio.Encode(ctx, res.Table, outFormat)
		if err != nil {
			return err
		}
		if err := resolver.Write(ctx, ro.output, encoded); err != nil {
			return err
		}
		logger.Info("result written", "output", ro.output, "format", outFormat)
		return nil
	}

	if !ro.raw && isTerminal(stdout) {
		width, _, err := term.GetSize(int(stdout.(*os.File).Fd()))
		if err != nil {
			width = 0
		}
		out, err := render.Terminal(res, render.Options{MaxRows: ro.maxRows, Width: width, Style: ro.style})
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, out)
		return err
	}
	return tableio.EncodeJSON(stdout, res.Table)
}

func readInput(ctx context.Context, ro runOptions, resolver *storage.Resolver, stdin io.Reader) ([]byte, tableio.Format, error) {
	var (
		data []byte
		err  error
	)
	format := tableio.FormatFromPath(ro.input)
	if ro.input == "-" || ro.input == "" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, "", dserrors.NewStorageError(dserrors.CodeDownloadFailed, "cannot read stdin", err)
		}
	} else if data, err = resolver.Read(ctx, ro.input); err != nil {
		return nil, "", err
	}
	if ro.format != "" {
		if format, err = tableio.ParseFormat(ro.format); err != nil {
			return nil, "", err
		}
	}
	return data, format, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
