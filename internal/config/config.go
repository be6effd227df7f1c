package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// RunType tags checkpoints written by the filtering ingest
const RunType = "split"

// Sink kinds
const (
	SinkSQLite     = "sqlite"
	SinkPostgres   = "postgres"
	SinkClickHouse = "clickhouse"
	SinkNone       = "none"
)

var yearMonthRegex = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Config holds all configuration for the ingest
type Config struct {
	// Input selection
	InputDir   string `yaml:"input"`
	OutputDir  string `yaml:"output"`
	WorkingDir string `yaml:"working"`
	StartDate  string `yaml:"start_date"` // YYYY-MM, inclusive
	EndDate    string `yaml:"end_date"`   // YYYY-MM, inclusive

	// Filter
	Field        string `yaml:"field"`
	Value        string `yaml:"value"` // comma separated
	CommentDepth int    `yaml:"comment_depth"`

	// Workers
	Processes     int    `yaml:"processes"`
	BatchSize     int    `yaml:"batch_size"`
	ProgressEvery int64  `yaml:"progress_every"`
	ChunkSize     string `yaml:"chunk_size"`  // humanized, e.g. "128MiB"
	MaxWindow     string `yaml:"max_window"` // humanized, e.g. "1GiB"

	// Record sink
	Sink           string `yaml:"sink"`
	Database       string `yaml:"database"`
	DSN            string `yaml:"dsn"`
	ClickHouseHost string `yaml:"clickhouse_host"`
	ClickHousePort int    `yaml:"clickhouse_port"`

	// Thread fetcher
	UserAgent      string  `yaml:"user_agent"`
	FetchRate      float64 `yaml:"fetch_rate"` // requests per second
	FetchRetries   int     `yaml:"fetch_retries"`
	ReplyCachePath string  `yaml:"reply_cache"`

	// Observability
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
	MetricsAddr     string `yaml:"metrics_addr"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingProtocol string `yaml:"tracing_protocol"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		WorkingDir:      "temp_files",
		Field:           "subreddit",
		Value:           "mentalhealth",
		CommentDepth:    -1,
		Processes:       10,
		BatchSize:       20,
		ProgressEvery:   1_000_000,
		ChunkSize:       "128MiB",
		MaxWindow:       "1GiB",
		Sink:            SinkSQLite,
		Database:        "reddit_bc",
		ClickHousePort:  9000,
		ClickHouseHost:  "localhost",
		UserAgent:       "go:tfg-ingest:v1.0.0 (research data collection)",
		FetchRate:       1,
		FetchRetries:    6,
		LogLevel:        "info",
		LogFile:         "logs/ingest.log",
		TracingProtocol: "grpc",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (lowest first).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("INGEST_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

// loadFile overlays the YAML file at path on top of cfg
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() {
	c.InputDir = getEnv("INGEST_INPUT", c.InputDir)
	c.OutputDir = getEnv("INGEST_OUTPUT", c.OutputDir)
	c.WorkingDir = getEnv("INGEST_WORKING", c.WorkingDir)
	c.StartDate = getEnv("INGEST_START_DATE", c.StartDate)
	c.EndDate = getEnv("INGEST_END_DATE", c.EndDate)

	c.Field = getEnv("INGEST_FIELD", c.Field)
	c.Value = getEnv("INGEST_VALUE", c.Value)
	c.CommentDepth = getEnvInt("INGEST_COMMENT_DEPTH", c.CommentDepth)

	c.Processes = getEnvInt("INGEST_PROCESSES", c.Processes)
	c.BatchSize = getEnvInt("INGEST_BATCH_SIZE", c.BatchSize)
	c.ChunkSize = getEnv("INGEST_CHUNK_SIZE", c.ChunkSize)
	c.MaxWindow = getEnv("INGEST_MAX_WINDOW", c.MaxWindow)

	c.Sink = getEnv("INGEST_SINK", c.Sink)
	c.Database = getEnv("INGEST_DATABASE", c.Database)
	c.DSN = getEnv("INGEST_DSN", c.DSN)
	c.ClickHouseHost = getEnv("CLICKHOUSE_HOST", c.ClickHouseHost)
	c.ClickHousePort = getEnvInt("CLICKHOUSE_PORT", c.ClickHousePort)

	c.UserAgent = getEnv("INGEST_USER_AGENT", c.UserAgent)
	c.FetchRetries = getEnvInt("INGEST_FETCH_RETRIES", c.FetchRetries)
	c.ReplyCachePath = getEnv("INGEST_REPLY_CACHE", c.ReplyCachePath)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingProtocol = getEnv("TRACING_PROTOCOL", c.TracingProtocol)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input folder is required")
	}
	if c.WorkingDir == "" {
		return fmt.Errorf("working folder is required")
	}
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if len(c.Values()) == 0 {
		return fmt.Errorf("at least one value is required")
	}
	if c.Processes < 1 {
		return fmt.Errorf("processes must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.ProgressEvery < 1 {
		return fmt.Errorf("progress interval must be at least 1 line")
	}
	if c.CommentDepth < -1 {
		return fmt.Errorf("comment depth must be -1 or greater")
	}
	for _, d := range []string{c.StartDate, c.EndDate} {
		if d != "" && !yearMonthRegex.MatchString(d) {
			return fmt.Errorf("invalid date %q: expected YYYY-MM", d)
		}
	}
	if c.StartDate != "" && c.EndDate != "" && c.StartDate > c.EndDate {
		return fmt.Errorf("start date %s is after end date %s", c.StartDate, c.EndDate)
	}

	chunk, err := c.ChunkBytes()
	if err != nil {
		return err
	}
	window, err := c.WindowBytes()
	if err != nil {
		return err
	}
	if chunk > window {
		return fmt.Errorf("chunk size %s exceeds max window %s", c.ChunkSize, c.MaxWindow)
	}

	switch c.Sink {
	case SinkSQLite, SinkPostgres, SinkNone:
	case SinkClickHouse:
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("unsupported sink %q", c.Sink)
	}
	if c.Sink == SinkPostgres && c.DSN == "" {
		return fmt.Errorf("postgres sink requires a DSN")
	}

	return nil
}

// Values returns the normalized filter values (trimmed, lowercased, deduplicated)
func (c *Config) Values() []string {
	seen := make(map[string]struct{})
	result := make([]string, 0)

	for _, v := range strings.Split(c.Value, ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}

	return result
}

// Fingerprint summarizes the filter semantics of this run. A resumed run
// must present the same fingerprint as the checkpoint it continues.
func (c *Config) Fingerprint() string {
	return fmt.Sprintf("%s:%s", c.Field, c.Value)
}

// ChunkBytes returns the decoder chunk size in bytes
func (c *Config) ChunkBytes() (int, error) {
	return parseSize("chunk size", c.ChunkSize)
}

// WindowBytes returns the decoder window size in bytes
func (c *Config) WindowBytes() (int, error) {
	return parseSize("max window", c.MaxWindow)
}

// FetchReplies reports whether thread replies must be fetched for matches
func (c *Config) FetchReplies() bool {
	return c.CommentDepth >= 0
}

func parseSize(name, value string) (int, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return int(n), nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
