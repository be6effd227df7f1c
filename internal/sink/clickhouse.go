package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/rs/zerolog/log"
)

// ClickHouse DateTime valid range: 1970-01-01 to 2106-02-07
var (
	minClickHouseDateTime = time.Unix(0, 0).UTC()
	maxClickHouseDateTime = time.Date(2106, 2, 7, 6, 28, 15, 0, time.UTC)
)

// clickHouseTime maps out-of-range timestamps to NULL
func clickHouseTime(t *time.Time) *time.Time {
	if t == nil || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return nil
	}
	return t
}

// ClickHouseSink writes records to ClickHouse, one native batch per table
type ClickHouseSink struct {
	conn  clickhouse.Conn
	runID string
	close func() error
}

// NewClickHouseSink creates a sink on conn. closeFn is called by Close and may be nil.
func NewClickHouseSink(conn clickhouse.Conn, runID string, closeFn func() error) *ClickHouseSink {
	return &ClickHouseSink{conn: conn, runID: runID, close: closeFn}
}

// SaveBatch sends submissions and comments as two native batches
func (w *ClickHouseSink) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	startTime := time.Now()

	if err := w.sendSubmissions(ctx, batch.Submissions); err != nil {
		return err
	}
	if err := w.sendComments(ctx, batch.Comments); err != nil {
		return err
	}

	log.Debug().
		Int("submissions", len(batch.Submissions)).
		Int("comments", len(batch.Comments)).
		Dur("duration", time.Since(startTime)).
		Msg("ClickHouse batch sent")

	return nil
}

func (w *ClickHouseSink) sendSubmissions(ctx context.Context, records []domain.Submission) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO submissions")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.ID,
			r.Author,
			r.Title,
			clickHouseTime(r.CreatedUTC),
			r.Selftext,
			r.Subreddit,
			r.LinkFlairText,
			r.Link,
			r.NumComments,
			r.Score,
			w.runID,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (w *ClickHouseSink) sendComments(ctx context.Context, records []domain.Comment) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO comments")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.ID,
			r.PostID,
			r.ParentID,
			r.Author,
			clickHouseTime(r.CreatedUTC),
			r.Body,
			int32(r.Depth),
			w.runID,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the connection
func (w *ClickHouseSink) Close() error {
	if w.close == nil {
		return nil
	}
	return w.close()
}
