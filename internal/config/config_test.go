package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.InputDir = "/data/reddit"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults with input", mutate: func(c *Config) {}},
		{name: "missing input", mutate: func(c *Config) { c.InputDir = "" }, wantErr: true},
		{name: "no values", mutate: func(c *Config) { c.Value = " , " }, wantErr: true},
		{name: "zero processes", mutate: func(c *Config) { c.Processes = 0 }, wantErr: true},
		{name: "bad start date", mutate: func(c *Config) { c.StartDate = "2020/01" }, wantErr: true},
		{name: "start after end", mutate: func(c *Config) { c.StartDate = "2021-01"; c.EndDate = "2020-12" }, wantErr: true},
		{name: "valid range", mutate: func(c *Config) { c.StartDate = "2020-01"; c.EndDate = "2020-12" }},
		{name: "comment depth below -1", mutate: func(c *Config) { c.CommentDepth = -2 }, wantErr: true},
		{name: "unparsable chunk", mutate: func(c *Config) { c.ChunkSize = "lots" }, wantErr: true},
		{name: "chunk above window", mutate: func(c *Config) { c.ChunkSize = "2GiB" }, wantErr: true},
		{name: "unknown sink", mutate: func(c *Config) { c.Sink = "mongo" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Sink = SinkPostgres }, wantErr: true},
		{name: "clickhouse bad port", mutate: func(c *Config) { c.Sink = SinkClickHouse; c.ClickHousePort = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValuesNormalized(t *testing.T) {
	cfg := validConfig()
	cfg.Value = " MentalHealth, depression ,mentalhealth,,"

	assert.Equal(t, []string{"mentalhealth", "depression"}, cfg.Values())
}

func TestFingerprintUsesRawValue(t *testing.T) {
	cfg := validConfig()
	cfg.Value = "a,b"

	assert.Equal(t, "subreddit:a,b", cfg.Fingerprint())
}

func TestSizes(t *testing.T) {
	cfg := validConfig()

	chunk, err := cfg.ChunkBytes()
	require.NoError(t, err)
	assert.Equal(t, 1<<27, chunk)

	window, err := cfg.WindowBytes()
	require.NoError(t, err)
	assert.Equal(t, 1<<30, window)
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input: /from/file\nprocesses: 4\nvalue: depression\n"), 0o600))

	t.Setenv("INGEST_PROCESSES", "6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.InputDir)
	assert.Equal(t, "depression", cfg.Value)
	assert.Equal(t, 6, cfg.Processes, "environment overrides the file")
	assert.Equal(t, "temp_files", cfg.WorkingDir, "defaults survive")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
