package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return path
}

func TestLoadAbsent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	inputDir := t.TempDir()
	working := filepath.Join(t.TempDir(), "temp_files")
	s := NewStore(working)

	done := touch(t, inputDir, "RS_2020-01.zst", 300)
	pending := touch(t, inputDir, "RC_2020-02.zst", 200)

	st := &State{
		Fingerprint:       "subreddit:mentalhealth",
		RunType:           "split",
		CompletedPrefixes: []string{"b", "a"},
		Tasks: []domain.TaskRecord{
			{InputPath: done, OutputPath: "out/RS_2020-01.zst", FileSize: 300, FileType: domain.FileTypeSubmission,
				Complete: true, BytesProcessed: 300, LinesProcessed: 10, ErrorLines: 1, LinesMatched: 4},
			{InputPath: pending, OutputPath: "out/RC_2020-02.zst", FileSize: 200, FileType: domain.FileTypeComment,
				LinesProcessed: 1_000_000, ErrorLines: 3, LinesMatched: 7},
		},
	}

	require.NoError(t, s.Save(st))
	assert.FileExists(t, s.Path())

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, st.Fingerprint, loaded.Fingerprint)
	assert.Equal(t, st.RunType, loaded.RunType)
	assert.Equal(t, []string{"a", "b"}, loaded.CompletedPrefixes)
	assert.Equal(t, st.Tasks, loaded.Tasks)

	leftovers, err := filepath.Glob(filepath.Join(working, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSaveDocumentShape(t *testing.T) {
	inputDir := t.TempDir()
	s := NewStore(t.TempDir())

	path := touch(t, inputDir, "RS_2021-03.zst", 10)
	require.NoError(t, s.Save(&State{
		Fingerprint: "subreddit:mentalhealth",
		RunType:     "split",
		Tasks: []domain.TaskRecord{
			{InputPath: path, OutputPath: "o", Complete: true, LinesProcessed: 7, ErrorLines: 2, LinesMatched: 3},
		},
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	text := string(data)
	assert.Less(t, strings.Index(text, `"args"`), strings.Index(text, `"type"`))
	assert.Less(t, strings.Index(text, `"type"`), strings.Index(text, `"completed_prefixes"`))
	assert.Less(t, strings.Index(text, `"completed_prefixes"`), strings.Index(text, `"files"`))

	var raw struct {
		Prefixes []string `json:"completed_prefixes"`
		Files    [][]any  `json:"files"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotNil(t, raw.Prefixes, "prefixes are written as an empty list")
	require.Len(t, raw.Files, 1)
	assert.Equal(t, []any{path, "o", true, 7.0, 2.0, 3.0}, raw.Files[0])
}

func TestLoadKeepsUnfinishedCounters(t *testing.T) {
	inputDir := t.TempDir()
	working := t.TempDir()
	path := touch(t, inputDir, "RS_2020-01.zst", 64)

	doc := `{"args":"subreddit:mentalhealth","type":"split","completed_prefixes":[],` +
		`"files":[["` + path + `",null,false,5000,3,2]]}`
	require.NoError(t, os.WriteFile(filepath.Join(working, FileName), []byte(doc), 0o600))

	st, err := NewStore(working).Load()
	require.NoError(t, err)
	require.Len(t, st.Tasks, 1)

	task := st.Tasks[0]
	assert.False(t, task.Complete)
	assert.Empty(t, task.OutputPath)
	assert.Equal(t, int64(64), task.FileSize)
	assert.Equal(t, int64(5000), task.LinesProcessed)
	assert.Equal(t, int64(2), task.LinesMatched)
	assert.Equal(t, int64(3), task.ErrorLines)
	assert.Zero(t, task.BytesProcessed)
	assert.False(t, task.Terminal())
}

func TestSaveFailureLeavesNoTempFile(t *testing.T) {
	working := t.TempDir()
	s := NewStore(working)

	// a non-empty directory in place of the checkpoint makes the rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path(), "busy"), 0o755))

	err := s.Save(&State{Fingerprint: "a", RunType: "split"})
	require.Error(t, err)

	leftovers, err := filepath.Glob(filepath.Join(working, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSaveOverwrites(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Save(&State{Fingerprint: "first", RunType: "split"}))
	require.NoError(t, s.Save(&State{Fingerprint: "second", RunType: "split"}))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", st.Fingerprint)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissingSource(t *testing.T) {
	working := t.TempDir()
	gone := filepath.Join(t.TempDir(), "RC_2020-01.zst")
	goneDone := filepath.Join(t.TempDir(), "RS_2020-01.zst")

	doc := `{"args":"a","type":"split","completed_prefixes":[],"files":[` +
		`["` + gone + `","o",false,0,0,0],["` + goneDone + `","o",true,9,0,1]]}`
	require.NoError(t, os.WriteFile(filepath.Join(working, FileName), []byte(doc), 0o600))

	st, err := NewStore(working).Load()
	require.NoError(t, err)
	require.Len(t, st.Tasks, 2)

	assert.True(t, st.Tasks[0].Failed())
	assert.False(t, st.Tasks[0].Complete)

	assert.True(t, st.Tasks[1].Complete)
	assert.Equal(t, int64(9), st.Tasks[1].LinesProcessed)
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"args":`},
		{"short entry", `{"args":"a","type":"split","completed_prefixes":[],"files":[["RS_x.zst","o",true]]}`},
		{"unknown type", `{"args":"a","type":"split","completed_prefixes":[],"files":[["XX_2020-01.zst","o",true,0,0,0]]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			working := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(working, FileName), []byte(tt.doc), 0o600))

			_, err := NewStore(working).Load()
			assert.Error(t, err)
		})
	}
}

func TestStateCheck(t *testing.T) {
	st := &State{Fingerprint: "subreddit:mentalhealth", RunType: "split"}

	assert.NoError(t, st.Check("subreddit:mentalhealth", "split"))
	assert.ErrorIs(t, st.Check("subreddit:depression", "split"), ErrFingerprintMismatch)
	assert.ErrorIs(t, st.Check("subreddit:mentalhealth", "combine"), ErrRunTypeMismatch)
}
