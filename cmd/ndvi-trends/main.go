// Command ndvi-trends runs the ring-trend analysis for one or more lakes and
// writes the results as CSV files (and optionally plots).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/httpclient"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geocode"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery/stac"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/invalidation/kafka"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/pipeline"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/publish"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/report"
)

var Version = "dev"

type options struct {
	lakes     []string
	presets   bool
	outline   bool
	out       string
	plots     string
	workers   int
	buffers   string
	start     string
	end       string
	unit      string
	innerDisk bool
	publish   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parseFlags(args []string, cfg config.Config) (options, error) {
	fs := flag.NewFlagSet("ndvi-trends", flag.ContinueOnError)
	var o options
	fs.Func("lake", "lake name or preset label (repeatable)", func(s string) error {
		if s = strings.TrimSpace(s); s != "" {
			o.lakes = append(o.lakes, s)
		}
		return nil
	})
	fs.BoolVar(&o.presets, "presets", false, "analyze every preset lake")
	fs.BoolVar(&o.outline, "outline", false, "use the geocoded lake outline instead of a point")
	fs.StringVar(&o.out, "out", ".", "output directory")
	fs.StringVar(&o.plots, "plots", "", "also render per-lake plots: svg or png")
	fs.IntVar(&o.workers, "workers", cfg.Workers, "lakes processed in parallel")
	fs.StringVar(&o.buffers, "buffers", "", "comma-separated ring breakpoints in meters")
	fs.StringVar(&o.start, "start", "", "first acquisition date (YYYY-MM-DD)")
	fs.StringVar(&o.end, "end", "", "last acquisition date (YYYY-MM-DD)")
	fs.StringVar(&o.unit, "unit", "", "slope time unit: day, year or acquisition")
	fs.BoolVar(&o.innerDisk, "inner-disk", cfg.Analysis.Rings.InnerDisk, "treat the first breakpoint as a disk")
	fs.BoolVar(&o.publish, "publish", cfg.Publish.Enabled, "publish trend results to Kafka")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.lakes = append(o.lakes, fs.Args()...)
	if o.presets {
		for _, p := range geocode.Presets() {
			o.lakes = append(o.lakes, p.Label)
		}
	}
	if len(o.lakes) == 0 {
		return o, fmt.Errorf("%w: no lakes given (use -lake or -presets)", model.ErrInvalidParameter)
	}
	if o.plots != "" {
		f, err := report.ParseFormat(o.plots)
		if err != nil {
			return o, err
		}
		o.plots = f
	}
	return o, nil
}

// analysis overlays the flag overrides on the env-derived analysis.
func (o options) analysis(base config.Analysis) (config.Analysis, error) {
	a := base
	a.Rings.InnerDisk = o.innerDisk
	if o.buffers != "" {
		bp, err := config.ParseBreakpoints(o.buffers)
		if err != nil {
			return a, err
		}
		a.Rings.Breakpoints = bp
	}
	for _, d := range []struct {
		s   string
		dst *time.Time
	}{{o.start, &a.Fetch.Start}, {o.end, &a.Fetch.End}} {
		if d.s == "" {
			continue
		}
		t, err := config.ParseDate(d.s)
		if err != nil {
			return a, err
		}
		*d.dst = t
	}
	if o.unit != "" {
		a.Trend.Unit = config.TimeUnit(strings.ToLower(o.unit))
	}
	return a, a.Validate()
}

func run(args []string, stderr io.Writer) int {
	cfg := config.FromEnv()
	opts, err := parseFlags(args, cfg)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintln(stderr, "ndvi-trends:", err)
		return 2
	}
	an, err := opts.analysis(cfg.Analysis)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "ndvi-trends:", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "ndvi-trends",
		Version:   Version,
	}, stderr)
	log := logger.NewSlog(&zl)
	observability.Init(nil, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hc := httpclient.NewOutbound(httpclient.Options{UserAgent: cfg.UserAgent})
	sc, err := stac.New(stac.Config{
		URL:     cfg.STACURL,
		SignURL: cfg.STACSignURL,
		RPS:     cfg.STACRPS,
		Burst:   cfg.STACBurst,

		MaxAssetBytes: cfg.AssetMaxBytes,
	}, hc, log)
	if err != nil {
		log.Error("stac client", "err", err)
		return 1
	}
	var fetch imagery.Fetcher = imagery.NewCached(sc, cfg.FetchCacheSize, log)

	resolver := geocode.Resolver{Geocoder: geocode.NewNominatim(cfg.NominatimURL, hc, log)}

	analyzer, err := pipeline.New(fetch, log, an, pipeline.WithProgress(func(p pipeline.Progress) {
		log.Debug("progress", "lake", p.Lake, "stage", p.Stage, "done", p.Done, "total", p.Total)
	}))
	if err != nil {
		log.Error("pipeline", "err", err)
		return 1
	}

	started := time.Now()
	outcomes := analyzeAll(ctx, resolver, analyzer, opts.lakes, opts.outline, opts.workers, log)
	reports := make([]*model.Report, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Error("lake failed", "lake", o.Lake.Name, "reason", model.Reason(o.Err), "err", o.Err)
			continue
		}
		reports = append(reports, o.Report)
	}

	if err := writeOutputs(opts, reports); err != nil {
		log.Error("write outputs", "err", err)
		return 1
	}
	if opts.publish && len(reports) > 0 {
		if err := publishAll(ctx, cfg, reports, log); err != nil {
			log.Error("publish", "err", err)
			return 1
		}
	}

	log.Info("batch finished",
		"lakes", len(outcomes),
		"failed", failed,
		"out", opts.out,
		"elapsed", time.Since(started))
	if failed > 0 {
		return 1
	}
	return 0
}

type lakeResolver interface {
	Resolve(ctx context.Context, name string, outline bool) (model.WaterBody, error)
}

type batchRunner interface {
	RunMany(ctx context.Context, lakes []model.WaterBody, workers int) []pipeline.Outcome
}

// analyzeAll resolves and analyses every named lake. A lake that cannot be
// resolved becomes a failed outcome and the rest of the batch still runs.
// Outcomes keep the order of names.
func analyzeAll(ctx context.Context, res lakeResolver, runner batchRunner, names []string, outline bool, workers int, log *slog.Logger) []pipeline.Outcome {
	outcomes := make([]pipeline.Outcome, len(names))
	var lakes []model.WaterBody
	var at []int
	for i, name := range names {
		w, err := res.Resolve(ctx, name, outline)
		if err != nil {
			log.Debug("resolve lake", "lake", name, "err", err)
			outcomes[i] = pipeline.Outcome{Lake: model.WaterBody{Name: name}, Err: err}
			continue
		}
		lakes = append(lakes, w)
		at = append(at, i)
	}
	if len(lakes) == 0 {
		return outcomes
	}
	for j, o := range runner.RunMany(ctx, lakes, workers) {
		outcomes[at[j]] = o
	}
	return outcomes
}

func writeOutputs(o options, reports []*model.Report) error {
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", o.out, err)
	}
	files := []struct {
		name  string
		write func(io.Writer, ...*model.Report) error
	}{
		{"trends.csv", report.WriteTrendsCSV},
		{"skipped.csv", report.WriteSkippedCSV},
		{"observations.csv", report.WriteObservationsCSV},
		{"dropped_scenes.csv", report.WriteDroppedCSV},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(o.out, f.name), func(w io.Writer) error {
			return f.write(w, reports...)
		}); err != nil {
			return err
		}
	}
	if o.plots == "" {
		return nil
	}
	names := plotNames(reports)
	for i, rep := range reports {
		base := filepath.Join(o.out, names[i])
		if p, err := report.DistanceDecayPlot(rep); err == nil {
			if err := writeFile(base+"_distance_decay."+o.plots, func(w io.Writer) error {
				return report.Render(w, p, o.plots)
			}); err != nil {
				return err
			}
		}
		if p, err := report.SeasonalContrastPlot(rep, report.DefaultContrastBufferM); err == nil {
			if err := writeFile(base+"_seasonal."+o.plots, func(w io.Writer) error {
				return report.Render(w, p, o.plots)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(path string, fill func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := fill(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func publishAll(ctx context.Context, cfg config.Config, reports []*model.Report, log *slog.Logger) error {
	pub, err := publish.NewKafka(kafka.SplitBrokers(cfg.Publish.Brokers), cfg.Publish.Topic, log)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()
	for _, rep := range reports {
		if err := pub.Publish(ctx, rep); err != nil {
			return fmt.Errorf("lake %s: %w", rep.Lake.Name, err)
		}
	}
	return nil
}

// plotNames gives each report a distinct file stem; repeated lake names get
// a numeric suffix in batch order.
func plotNames(reports []*model.Report) []string {
	out := make([]string, len(reports))
	taken := make(map[string]bool, len(reports))
	for i, rep := range reports {
		base := report.Slug(rep.Lake.Name)
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[name] = true
		out[i] = name
	}
	return out
}
