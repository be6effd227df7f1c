package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/checkpoint"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"plain error", errors.New("boom"), exitStartup},
		{"startup", &exitError{code: exitStartup, err: errors.New("no sink")}, exitStartup},
		{"mismatch", &exitError{code: exitMismatch, err: fmt.Errorf("load: %w", checkpoint.ErrFingerprintMismatch)}, exitMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--field", "author", "--processes", "3", "--debug", "--comment_depth", "2"}))

	cfg := config.Default()
	cfg.Value = "from-config"

	var f flags
	f.field, _ = cmd.Flags().GetString("field")
	f.processes, _ = cmd.Flags().GetInt("processes")
	f.debug, _ = cmd.Flags().GetBool("debug")
	f.commentDepth, _ = cmd.Flags().GetInt("comment_depth")
	f.apply(cmd, cfg)

	assert.Equal(t, "author", cfg.Field)
	assert.Equal(t, 3, cfg.Processes)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.CommentDepth)
	assert.True(t, cfg.FetchReplies())
	assert.Equal(t, "from-config", cfg.Value, "unset flags keep the configured value")
	assert.Equal(t, "temp_files", cfg.WorkingDir)
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{t.TempDir(), "--start_date", "2020-13-01", "--working", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, exitStartup, exitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestDecoderOptions(t *testing.T) {
	cfg := config.Default()
	cfg.ChunkSize = "1MiB"
	cfg.MaxWindow = "8MiB"

	opts, err := decoderOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, opts.ChunkSize)
	assert.Equal(t, 8<<20, opts.MaxWindow)

	cfg.MaxWindow = "lots"
	_, err = decoderOptions(cfg)
	assert.Error(t, err)
}
