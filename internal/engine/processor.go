// Package engine runs the filter over one archive and hands matches to the sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/decoder"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/filter"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/observability"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/sink"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/thread"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBatchSize     = 20
	DefaultProgressEvery = 1_000_000
)

// Options tunes per-file processing
type Options struct {
	BatchSize     int   // matched records per sink write
	ProgressEvery int64 // lines between progress snapshots
	Decoder       decoder.Options
	FetchReplies  bool // fetch the reply tree of matched submissions
}

// Engine filters archives line by line. One Engine is shared by all workers;
// all per-file state lives in ProcessFile.
type Engine struct {
	matcher *filter.Matcher
	sink    sink.RecordSink
	fetcher thread.Fetcher
	opts    Options
}

// New creates an engine. fetcher may be nil when replies are not fetched.
func New(matcher *filter.Matcher, recordSink sink.RecordSink, fetcher thread.Fetcher, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if fetcher == nil {
		fetcher = thread.NopFetcher{}
	}

	return &Engine{
		matcher: matcher,
		sink:    recordSink,
		fetcher: fetcher,
		opts:    opts,
	}
}

// ProcessFile streams task's archive through the filter. Snapshots of the
// record are sent on updates when the file starts, every ProgressEvery lines
// and when it ends. The final record is also returned: complete on success,
// carrying an error message otherwise.
func (e *Engine) ProcessFile(ctx context.Context, task domain.TaskRecord, updates chan<- domain.TaskRecord) domain.TaskRecord {
	startTime := time.Now()

	ctx, span := observability.StartSpan(ctx, "engine.process_file",
		attribute.String("file", task.InputPath),
		attribute.Int64("file_size", task.FileSize),
		attribute.String("file_type", task.FileType.String()),
	)

	updates <- task

	err := e.run(ctx, &task, updates)
	if err != nil {
		task.MarkFailed(err)
		log.Error().
			Err(err).
			Str("file", task.InputPath).
			Int64("file_size", task.FileSize).
			Int64("lines_processed", task.LinesProcessed).
			Msg("File processing failed")
	} else {
		task.MarkComplete()
		log.Debug().
			Str("file", task.InputPath).
			Int64("lines_processed", task.LinesProcessed).
			Int64("lines_matched", task.LinesMatched).
			Int64("error_lines", task.ErrorLines).
			Dur("duration", time.Since(startTime)).
			Msg("File processed")
	}

	span.SetAttributes(
		attribute.Int64("lines_processed", task.LinesProcessed),
		attribute.Int64("lines_matched", task.LinesMatched),
		attribute.Int64("error_lines", task.ErrorLines),
	)
	observability.EndSpan(span, err, "file processed")

	updates <- task
	return task
}

func (e *Engine) run(ctx context.Context, task *domain.TaskRecord, updates chan<- domain.TaskRecord) error {
	reader, err := decoder.Open(task.InputPath, e.opts.Decoder)
	if err != nil {
		return err
	}
	defer reader.Close()

	var (
		batch   domain.Batch
		pending int // matched records in batch
	)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted: %w", ctx.Err())
		default:
		}

		line, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		task.LinesProcessed++
		record, matched, err := e.matcher.Match(line)
		switch {
		case err != nil:
			task.ErrorLines++
		case matched:
			task.LinesMatched++
			pending++
			e.collect(ctx, task.FileType, record, &batch)
		}

		if pending >= e.opts.BatchSize {
			if err := e.sink.SaveBatch(ctx, &batch); err != nil {
				return err
			}
			batch.Reset()
			pending = 0
		}

		if task.LinesProcessed%e.opts.ProgressEvery == 0 {
			task.BytesProcessed = min(reader.Offset(), task.FileSize)
			updates <- *task
		}
	}

	if !batch.Empty() {
		if err := e.sink.SaveBatch(ctx, &batch); err != nil {
			return err
		}
	}

	return nil
}

// collect appends the records built from a matched line to batch
func (e *Engine) collect(ctx context.Context, fileType domain.FileType, record filter.Record, batch *domain.Batch) {
	switch fileType {
	case domain.FileTypeSubmission:
		sub := filter.ToSubmission(record)
		batch.Submissions = append(batch.Submissions, sub)
		if e.opts.FetchReplies && sub.ID != "" {
			batch.Comments = append(batch.Comments, e.fetcher.FetchReplies(ctx, sub.ID)...)
		}
	case domain.FileTypeComment:
		batch.Comments = append(batch.Comments, filter.ToComment(record))
	}
}
