// Package sink persists matched records in batches.
package sink

import (
	"context"
	"fmt"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/observability"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/retry"
	"go.opentelemetry.io/otel/attribute"
)

// RecordSink writes batches of records. One SaveBatch call is one
// transactional write: either the whole batch is stored or an error is
// returned. Implementations must be safe for concurrent use by workers.
type RecordSink interface {
	// SaveBatch stores the submissions and comments of batch
	SaveBatch(ctx context.Context, batch *domain.Batch) error

	// Close releases the underlying connection
	Close() error
}

// instrumented wraps a sink with retry, tracing and metrics
type instrumented struct {
	next     RecordSink
	kind     string
	retryCfg retry.Config
	metrics  *observability.Metrics
}

// Instrument decorates next. metrics may be nil.
func Instrument(next RecordSink, kind string, retryCfg retry.Config, metrics *observability.Metrics) RecordSink {
	return &instrumented{
		next:     next,
		kind:     kind,
		retryCfg: retryCfg,
		metrics:  metrics,
	}
}

func (s *instrumented) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	if batch.Empty() {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "sink.save_batch",
		attribute.String("sink", s.kind),
		attribute.Int("submissions", len(batch.Submissions)),
		attribute.Int("comments", len(batch.Comments)),
	)

	err := retry.Do(ctx, s.retryCfg, func() error {
		return s.next.SaveBatch(ctx, batch)
	})
	if err != nil {
		err = fmt.Errorf("failed to save batch to %s: %w", s.kind, err)
	}

	s.metrics.ObserveSinkBatch(err, len(batch.Submissions), len(batch.Comments))
	observability.EndSpan(span, err, "batch saved")

	return err
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
