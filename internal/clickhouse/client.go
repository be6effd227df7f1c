package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/retry"
	"github.com/rs/zerolog/log"
)

// Schema for the record tables. ReplacingMergeTree collapses rows re-sent
// after a resumed run.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
		id String,
		author String,
		title String,
		created_utc Nullable(DateTime),
		selftext String,
		subreddit LowCardinality(String),
		link_flair_text String,
		link String,
		num_comments Int64,
		score Int64,
		run_id String
	) ENGINE = ReplacingMergeTree ORDER BY id`,
	`CREATE TABLE IF NOT EXISTS comments (
		id String,
		post_id String,
		parent_id String,
		author String,
		created_utc Nullable(DateTime),
		body String,
		depth Int32,
		run_id String
	) ENGINE = ReplacingMergeTree ORDER BY (post_id, id)`,
}

// Client wraps ClickHouse connection
type Client struct {
	conn     clickhouse.Conn
	retryCfg retry.Config
}

// NewClient creates a new ClickHouse client with default retry config
func NewClient(ctx context.Context, host string, port int, database string) (*Client, error) {
	return NewClientWithRetry(ctx, host, port, database, retry.DefaultConfig())
}

// NewClientWithRetry creates a new ClickHouse client with custom retry configuration
func NewClientWithRetry(ctx context.Context, host string, port int, database string, retryCfg retry.Config) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("host", host).
		Int("port", port).
		Str("database", database).
		Msg("Connected to ClickHouse")

	return &Client{
		conn:     conn,
		retryCfg: retryCfg,
	}, nil
}

// EnsureSchema creates the record tables if they do not exist
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := c.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() clickhouse.Conn {
	return c.conn
}

// RetryConfig returns the retry policy used by this client
func (c *Client) RetryConfig() retry.Config {
	return c.retryCfg
}

// Close closes the connection
func (c *Client) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return c.conn.Close()
}

// Query executes a SELECT query and returns rows with retry logic
func (c *Client) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (driver.Rows, error) {
		return c.conn.Query(ctx, query, args...)
	})
}

// Exec executes a non-SELECT query with retry logic
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.conn.Exec(ctx, query, args...)
	})
}
