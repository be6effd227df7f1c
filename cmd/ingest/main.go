// Package main provides the entry point for the archive ingest.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/checkpoint"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/config"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/decoder"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/engine"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/filter"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/observability"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/pool"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/sink"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/thread"
)

const version = "0.1.0"

// Exit codes
const (
	exitOK       = 0
	exitStartup  = 1
	exitMismatch = 2
)

// exitError carries the process exit code of a failed run
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := newRootCommand().Execute()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != exitOK {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitStartup
}

// flags mirrors the command line; a flag only overrides the configuration
// when it was set explicitly
type flags struct {
	configPath   string
	working      string
	output       string
	field        string
	value        string
	processes    int
	startDate    string
	endDate      string
	commentDepth int
	debug        bool
	database     string
	sinkKind     string
	dsn          string
	metricsAddr  string
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "ingest <input>",
		Short: "Filter Reddit archive dumps into a record sink",
		Long: `Streams compressed Reddit dumps (RC_/RS_ files) line by line, keeps the
records whose field matches one of the values and writes them to a sink.

Progress is checkpointed in the working folder; running the same command
again resumes where the previous run stopped.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return &exitError{code: exitStartup, err: err}
			}
			f.apply(cmd, cfg)
			if len(args) == 1 {
				cfg.InputDir = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return &exitError{code: exitStartup, err: fmt.Errorf("invalid configuration: %w", err)}
			}

			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.working, "working", "", "folder holding the checkpoint and intermediate files")
	fs.StringVar(&f.output, "output", "", "folder for output files, defaults to the working folder")
	fs.StringVar(&f.field, "field", "", "record field to match")
	fs.StringVar(&f.value, "value", "", "comma separated values to match")
	fs.IntVar(&f.processes, "processes", 0, "number of worker goroutines")
	fs.StringVar(&f.startDate, "start_date", "", "first archive month, YYYY-MM")
	fs.StringVar(&f.endDate, "end_date", "", "last archive month, YYYY-MM")
	fs.IntVar(&f.commentDepth, "comment_depth", 0, "fetch replies of matched submissions down to this depth, -1 disables")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.StringVar(&f.database, "database", "", "database name")
	fs.StringVar(&f.sinkKind, "sink", "", "record sink: sqlite, postgres, clickhouse or none")
	fs.StringVar(&f.dsn, "dsn", "", "sink connection string")
	fs.StringVar(&f.metricsAddr, "metrics_addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}

	set("working", func() { cfg.WorkingDir = f.working })
	set("output", func() { cfg.OutputDir = f.output })
	set("field", func() { cfg.Field = f.field })
	set("value", func() { cfg.Value = f.value })
	set("processes", func() { cfg.Processes = f.processes })
	set("start_date", func() { cfg.StartDate = f.startDate })
	set("end_date", func() { cfg.EndDate = f.endDate })
	set("comment_depth", func() { cfg.CommentDepth = f.commentDepth })
	set("debug", func() {
		if f.debug {
			cfg.LogLevel = "debug"
		}
	})
	set("database", func() { cfg.Database = f.database })
	set("sink", func() { cfg.Sink = f.sinkKind })
	set("dsn", func() { cfg.DSN = f.dsn })
	set("metrics_addr", func() { cfg.MetricsAddr = f.metricsAddr })
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	logCloser := observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	runID := uuid.NewString()
	log.Info().
		Str("version", version).
		Str("run_id", runID).
		Msg("Starting archive ingest")

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "reddit-ingest",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
		RunID:          runID,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to shut down tracer")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		observability.ServeMetrics(ctx, cfg.MetricsAddr, registry)
	}

	recordSink, err := sink.New(ctx, cfg, runID, metrics)
	if err != nil {
		return &exitError{code: exitStartup, err: err}
	}
	defer func() {
		if err := recordSink.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close record sink")
		}
	}()

	fetcher, closeFetcher, err := newFetcher(cfg, metrics)
	if err != nil {
		return &exitError{code: exitStartup, err: err}
	}
	defer closeFetcher()

	decoderOpts, err := decoderOptions(cfg)
	if err != nil {
		return &exitError{code: exitStartup, err: err}
	}

	values := cfg.Values()
	eng := engine.New(filter.NewMatcher(cfg.Field, values), recordSink, fetcher, engine.Options{
		BatchSize:     cfg.BatchSize,
		ProgressEvery: cfg.ProgressEvery,
		Decoder:       decoderOpts,
		FetchReplies:  cfg.FetchReplies(),
	})

	output := cfg.OutputDir
	if output == "" {
		output = cfg.WorkingDir
	}
	log.Info().Msgf("Loading files from: %s", cfg.InputDir)
	log.Info().Msgf("Writing output to: %s", output)
	log.Info().Msgf("Checking if %s exactly match field %s", filter.Describe(values), cfg.Field)
	if cfg.FetchReplies() {
		log.Info().Int("comment_depth", cfg.CommentDepth).Msg("Fetching replies of matched submissions")
	}

	coordinator := pool.NewCoordinator(checkpoint.NewStore(cfg.WorkingDir), eng, pool.Options{
		Processes:   cfg.Processes,
		Fingerprint: cfg.Fingerprint(),
		RunType:     config.RunType,
		Discover: pool.DiscoverOptions{
			InputDir:   cfg.InputDir,
			OutputDir:  cfg.OutputDir,
			WorkingDir: cfg.WorkingDir,
			StartDate:  cfg.StartDate,
			EndDate:    cfg.EndDate,
		},
		OnWorkerError: func(task domain.TaskRecord, err error) {
			log.Error().Err(err).Str("file", task.InputPath).Msg("Error in worker")
		},
	}, metrics)

	res, err := coordinator.Run(ctx)
	if err != nil {
		if errors.Is(err, checkpoint.ErrFingerprintMismatch) || errors.Is(err, checkpoint.ErrRunTypeMismatch) {
			log.Error().Err(err).Str("working", cfg.WorkingDir).
				Msg("Checkpoint was written with different arguments, delete the working folder to start over")
			return &exitError{code: exitMismatch, err: err}
		}
		log.Error().Err(err).Msg("Run failed")
		return &exitError{code: exitStartup, err: err}
	}

	if ctx.Err() != nil {
		log.Info().Msg("Interrupted, progress was saved and the next run resumes from the checkpoint")
	}
	if res.Totals.FilesFailed > 0 {
		log.Warn().Int("files_failed", res.Totals.FilesFailed).Msg("Some files failed and will be retried on the next run")
	}

	return nil
}

func decoderOptions(cfg *config.Config) (decoder.Options, error) {
	chunk, err := cfg.ChunkBytes()
	if err != nil {
		return decoder.Options{}, err
	}
	window, err := cfg.WindowBytes()
	if err != nil {
		return decoder.Options{}, err
	}
	return decoder.Options{ChunkSize: chunk, MaxWindow: window}, nil
}

// newFetcher builds the reply fetcher, backed by an on-disk cache when one
// is configured
func newFetcher(cfg *config.Config, metrics *observability.Metrics) (thread.Fetcher, func(), error) {
	if !cfg.FetchReplies() {
		return thread.NopFetcher{}, func() {}, nil
	}

	var cache *thread.ReplyCache
	closeFn := func() {}
	if cfg.ReplyCachePath != "" {
		c, err := thread.OpenReplyCache(cfg.ReplyCachePath)
		if err != nil {
			return nil, nil, err
		}
		cache = c
		closeFn = func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close reply cache")
			}
		}
	}

	fetcher := thread.NewRedditFetcher(thread.FetcherConfig{
		UserAgent:   cfg.UserAgent,
		Rate:        cfg.FetchRate,
		MaxAttempts: cfg.FetchRetries,
		MaxDepth:    cfg.CommentDepth,
	}, cache, metrics)

	return fetcher, closeFn, nil
}
