package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver
)

// Driver names accepted by OpenSQL
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const pingTimeout = 5 * time.Second

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		author TEXT,
		title TEXT,
		created_utc TIMESTAMP NULL,
		selftext TEXT,
		subreddit TEXT,
		link_flair_text TEXT,
		link TEXT,
		num_comments BIGINT,
		score BIGINT,
		run_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT,
		parent_id TEXT,
		author TEXT,
		created_utc TIMESTAMP NULL,
		body TEXT,
		depth INTEGER,
		run_id TEXT
	)`,
}

// Re-sent batches after a resume hit existing ids; the first copy wins.
const (
	insertSubmission = `INSERT INTO submissions
		(id, author, title, created_utc, selftext, subreddit, link_flair_text, link, num_comments, score, run_id)
		VALUES (:id, :author, :title, :created_utc, :selftext, :subreddit, :link_flair_text, :link, :num_comments, :score, :run_id)
		ON CONFLICT (id) DO NOTHING`

	insertComment = `INSERT INTO comments
		(id, post_id, parent_id, author, created_utc, body, depth, run_id)
		VALUES (:id, :post_id, :parent_id, :author, :created_utc, :body, :depth, :run_id)
		ON CONFLICT (id) DO NOTHING`
)

// SQLSink stores records in a relational database through sqlx
type SQLSink struct {
	db    *sqlx.DB
	runID string
}

// OpenSQL connects to driver/dsn, creates the tables and returns the sink
func OpenSQL(ctx context.Context, driver, dsn, runID string) (*SQLSink, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// single writer; also keeps ":memory:" databases on one connection
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	s := NewSQLSink(db, runID)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("driver", driver).
		Msg("SQL sink ready")

	return s, nil
}

// NewSQLSink wraps an existing connection
func NewSQLSink(db *sqlx.DB, runID string) *SQLSink {
	return &SQLSink{db: db, runID: runID}
}

// EnsureSchema creates the record tables if they do not exist
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	for _, ddl := range sqlSchema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// SaveBatch inserts the batch in one transaction
func (s *SQLSink) SaveBatch(ctx context.Context, batch *domain.Batch) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warn().Err(rbErr).Msg("Failed to roll back batch")
			}
		}
	}()

	if len(batch.Submissions) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, insertSubmission)
		if err != nil {
			return fmt.Errorf("failed to prepare submission insert: %w", err)
		}
		defer stmt.Close()

		for _, sub := range batch.Submissions {
			sub.RunID = s.runID
			if _, err := stmt.ExecContext(ctx, sub); err != nil {
				return fmt.Errorf("failed to insert submission %s: %w", sub.ID, err)
			}
		}
	}

	if len(batch.Comments) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, insertComment)
		if err != nil {
			return fmt.Errorf("failed to prepare comment insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range batch.Comments {
			c.RunID = s.runID
			if _, err := stmt.ExecContext(ctx, c); err != nil {
				return fmt.Errorf("failed to insert comment %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	log.Debug().
		Int("submissions", len(batch.Submissions)).
		Int("comments", len(batch.Comments)).
		Msg("DB insert completed")

	return nil
}

// Close closes the database
func (s *SQLSink) Close() error {
	return s.db.Close()
}
