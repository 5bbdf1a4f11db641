// Bars pipeline CLI.
//
// Usage:
//
//	barspipe run --symbols AAPL,MSFT --timeframes daily,weekly --start 2024-01-01
//	barspipe check --symbols AAPL --timeframes daily
//	barspipe schedule --symbols AAPL,MSFT
//	barspipe version
//
// For detailed help on any command, use: barspipe <command> --help
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/swinglab/go-bars-pipeline/internal/align"
	"github.com/swinglab/go-bars-pipeline/internal/config"
	pipeerrors "github.com/swinglab/go-bars-pipeline/internal/errors"
	"github.com/swinglab/go-bars-pipeline/internal/feed"
	"github.com/swinglab/go-bars-pipeline/internal/freshness"
	"github.com/swinglab/go-bars-pipeline/internal/logger"
	"github.com/swinglab/go-bars-pipeline/internal/models"
	"github.com/swinglab/go-bars-pipeline/internal/pipeline"
	"github.com/swinglab/go-bars-pipeline/internal/quality"
	"github.com/swinglab/go-bars-pipeline/internal/report"
	"github.com/swinglab/go-bars-pipeline/internal/schedule"
	"github.com/swinglab/go-bars-pipeline/internal/store"
)

const (
	Version = "1.0.0"
	AppName = "barspipe"
)

const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     store.CacheStore
	sink      report.Sink
	sinkClose func() error
	pipe      *pipeline.Pipeline
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "version":
		fmt.Printf("%s %s\n", AppName, Version)
		os.Exit(ExitSuccess)
	case "help", "-h", "--help":
		printUsage()
		os.Exit(ExitSuccess)
	case "run", "check", "schedule":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	flags, err := parseFlags(command, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitUsageError)
	}

	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	a, err := newApp(command, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfigError)
	}
	defer a.close()

	if err := a.dispatch(ctx, command, flags); err != nil {
		if ctx.Err() != nil {
			a.logger.Warn("interrupted")
			os.Exit(ExitInterrupt)
		}
		a.logger.Error("command failed", "command", command, "error", err)
		os.Exit(ExitDataError)
	}
}

type cliFlags struct {
	configPath string
	symbols    string
	timeframes string
	start      string
	end        string
	cronSpec   string
}

func parseFlags(command string, args []string) (*cliFlags, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	flags := &cliFlags{}

	fs.StringVar(&flags.configPath, "config", "", "path to JSON or YAML config file")
	fs.StringVar(&flags.symbols, "symbols", "", "comma-separated symbols (overrides config)")
	fs.StringVar(&flags.timeframes, "timeframes", "", "comma-separated timeframes (overrides config)")
	fs.StringVar(&flags.start, "start", "", "range start date (YYYY-MM-DD)")
	fs.StringVar(&flags.end, "end", "", "range end date (YYYY-MM-DD)")
	if command == "schedule" {
		fs.StringVar(&flags.cronSpec, "cron", "", "cron expression (overrides config)")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

func newApp(command string, flags *cliFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath, slog.Default())
	if err != nil {
		return nil, err
	}
	if flags.symbols != "" {
		cfg.Pipeline.Symbols = splitList(flags.symbols)
	}
	if flags.timeframes != "" {
		cfg.Pipeline.Timeframes = splitList(flags.timeframes)
	}
	if flags.start != "" {
		cfg.Pipeline.StartDate = flags.start
	}
	if flags.end != "" {
		cfg.Pipeline.EndDate = flags.end
	}
	if flags.cronSpec != "" {
		cfg.Schedule.Cron = flags.cronSpec
	}

	log, logCloser, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(log)

	a := &app{cfg: cfg, logger: log, logCloser: logCloser}

	a.store, err = newStore(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	a.sink, a.sinkClose, err = newSink(command, cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	checks := &quality.Config{
		ExtremeMoveThreshold: cfg.Checks.ExtremeMoveThreshold,
		StagnantBarRatio:     cfg.Checks.StagnantBarRatio,
		MaxAnomalySamples:    cfg.Checks.MaxAnomalySamples,
	}

	fetcher := feed.NewRetryingFetcher(
		feed.NewFileFetcher(cfg.Fetch.Source, logger.Component(log, "feed")),
		pipeerrors.RetryPolicy{
			MaxAttempts:  cfg.Fetch.RetryAttempts,
			InitialDelay: cfg.Fetch.RetryDelayDuration(),
			MaxDelay:     cfg.Fetch.RetryMaxDelayDuration(),
			Strategy:     cfg.Fetch.RetryStrategy,
		},
		logger.Component(log, "feed"),
	)

	mode := pipeline.ModeRun
	if command == "check" {
		mode = pipeline.ModeCheck
	}

	a.pipe = pipeline.New(
		a.store,
		fetcher,
		freshness.NewGate(cfg.Cache.MaxAgeDays),
		quality.NewValidator(checks, logger.Component(log, "validator")),
		quality.NewCleaner(checks, logger.Component(log, "cleaner")),
		align.NewAligner(logger.Component(log, "aligner")),
		a.sink,
		logger.Component(log, "pipeline"),
		pipeline.Options{
			Workers:    cfg.Pipeline.Workers,
			RatePerSec: cfg.Pipeline.RatePerSec,
			Mode:       mode,
		},
	)
	return a, nil
}

func newStore(cfg *config.Config, log *slog.Logger) (store.CacheStore, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewDuckDBStore(cfg.Cache.Path, logger.Component(log, "store"))
	}
}

func newSink(command string, cfg *config.Config, log *slog.Logger) (report.Sink, func() error, error) {
	if command == "check" {
		return nil, nil, nil
	}

	sinks := report.MultiSink{report.NewLogSink(logger.Component(log, "report"))}
	var closer func() error

	if cfg.Reports.Dir != "" {
		js, err := report.NewJSONSink(cfg.Reports.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("setup report dir: %w", err)
		}
		sinks = append(sinks, js)
	}
	if cfg.Reports.SQLitePath != "" {
		ss, err := report.NewSQLiteSink(cfg.Reports.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("setup report database: %w", err)
		}
		sinks = append(sinks, ss)
		closer = ss.Close
	}
	return sinks, closer, nil
}

func (a *app) dispatch(ctx context.Context, command string, flags *cliFlags) error {
	switch command {
	case "run", "check":
		return a.runOnce(ctx)
	case "schedule":
		return a.runScheduled(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

func (a *app) runOnce(ctx context.Context) error {
	symbols := a.cfg.Pipeline.Symbols
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols configured; use --symbols or the config file")
	}

	timeframes, err := parseTimeframes(a.cfg.Pipeline.Timeframes)
	if err != nil {
		return err
	}
	start, end, err := parseRange(a.cfg.Pipeline.StartDate, a.cfg.Pipeline.EndDate)
	if err != nil {
		return err
	}

	result, err := a.pipe.Run(ctx, symbols, timeframes, start, end)
	if err != nil {
		return err
	}

	for _, unit := range result.Units {
		if unit.Err != nil {
			a.logger.Error("unit failed",
				"symbol", unit.Symbol,
				"timeframe", string(unit.Timeframe),
				"error", unit.Err)
			continue
		}
		status := "valid"
		if unit.Report != nil && !unit.Report.IsValid() {
			status = "cleaned"
		}
		a.logger.Info("unit finished",
			"symbol", unit.Symbol,
			"timeframe", string(unit.Timeframe),
			"decision", unit.Decision.String(),
			"status", status)
	}

	if failed := result.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d units failed", len(failed), len(result.Units))
	}
	return nil
}

func (a *app) runScheduled(ctx context.Context) error {
	sched, err := schedule.New(a.cfg.Schedule.Cron, func(taskCtx context.Context) error {
		return a.runOnce(taskCtx)
	}, logger.Component(a.logger, "scheduler"))
	if err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	a.logger.Info("scheduler running, press Ctrl+C to stop", "cron", a.cfg.Schedule.Cron)
	<-ctx.Done()
	return nil
}

func (a *app) close() {
	if a.sinkClose != nil {
		if err := a.sinkClose(); err != nil {
			a.logger.Warn("report sink close failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("cache store close failed", "error", err)
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

func parseTimeframes(raw []string) ([]models.Timeframe, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no timeframes configured")
	}
	out := make([]models.Timeframe, 0, len(raw))
	for _, s := range raw {
		tf, err := models.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if startStr != "" {
		if start, err = time.Parse(time.DateOnly, startStr); err != nil {
			return start, end, fmt.Errorf("invalid start date %q: %w", startStr, err)
		}
		start = models.Day(start)
	}
	if endStr != "" {
		if end, err = time.Parse(time.DateOnly, endStr); err != nil {
			return start, end, fmt.Errorf("invalid end date %q: %w", endStr, err)
		}
		end = models.Day(end)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return start, end, fmt.Errorf("start date %s is after end date %s", startStr, endStr)
	}
	return start, end, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage() {
	fmt.Printf(`%s - OHLCV bar series pipeline

Usage:
  %s <command> [flags]

Commands:
  run       Fetch, validate, clean, align and report
  check     Validate only; no cleaning, no report files
  schedule  Run the pipeline on a cron schedule
  version   Print version information
  help      Show this help

Common flags:
  --config      path to JSON or YAML config file
  --symbols     comma-separated symbols (overrides config)
  --timeframes  comma-separated timeframes (overrides config)
  --start       range start date, YYYY-MM-DD
  --end         range end date, YYYY-MM-DD

Schedule flags:
  --cron        cron expression (default "0 18 * * 1-5")

Examples:
  %s run --symbols AAPL,MSFT --timeframes daily,weekly --start 2024-01-01
  %s check --symbols AAPL --timeframes daily
  %s schedule --symbols AAPL,MSFT --cron "0 18 * * 1-5"
`, AppName, AppName, AppName, AppName, AppName)
}
