package sink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/clickhouse"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/config"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/observability"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/retry"
	"github.com/rs/zerolog/log"
)

// New builds the sink selected by cfg.Sink, wrapped with retry, tracing and metrics
func New(ctx context.Context, cfg *config.Config, runID string, metrics *observability.Metrics) (RecordSink, error) {
	var (
		next RecordSink
		err  error
	)

	switch cfg.Sink {
	case config.SinkSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Database + ".db"
		}
		next, err = OpenSQL(ctx, DriverSQLite, dsn, runID)
	case config.SinkPostgres:
		next, err = OpenSQL(ctx, DriverPostgres, cfg.DSN, runID)
	case config.SinkClickHouse:
		var client *clickhouse.Client
		client, err = clickhouse.NewClient(ctx, cfg.ClickHouseHost, cfg.ClickHousePort, cfg.Database)
		if err != nil {
			break
		}
		if err = client.EnsureSchema(ctx); err != nil {
			client.Close()
			break
		}
		next = NewClickHouseSink(client.Conn(), runID, client.Close)
	case config.SinkNone:
		next = &Discard{}
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
	if err != nil {
		return nil, err
	}

	return Instrument(next, cfg.Sink, retry.DefaultConfig(), metrics), nil
}

// Discard drops every batch, counting what it received
type Discard struct {
	submissions atomic.Int64
	comments    atomic.Int64
}

func (d *Discard) SaveBatch(_ context.Context, batch *domain.Batch) error {
	d.submissions.Add(int64(len(batch.Submissions)))
	d.comments.Add(int64(len(batch.Comments)))
	return nil
}

// Counts returns the number of submissions and comments received so far
func (d *Discard) Counts() (submissions, comments int64) {
	return d.submissions.Load(), d.comments.Load()
}

func (d *Discard) Close() error {
	log.Info().
		Int64("submissions", d.submissions.Load()).
		Int64("comments", d.comments.Load()).
		Msg("Discarded records")
	return nil
}
