package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/decoder"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/filter"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	batches []domain.Batch
	err     error
}

func (s *memorySink) SaveBatch(_ context.Context, b *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, domain.Batch{
		Submissions: append([]domain.Submission(nil), b.Submissions...),
		Comments:    append([]domain.Comment(nil), b.Comments...),
	})
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) totals() (subs, comments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		subs += len(b.Submissions)
		comments += len(b.Comments)
	}
	return subs, comments
}

type stubFetcher struct {
	calls []string
}

func (f *stubFetcher) FetchReplies(_ context.Context, postID string) []domain.Comment {
	f.calls = append(f.calls, postID)
	return []domain.Comment{{ID: "r-" + postID, PostID: postID, ParentID: postID}}
}

func writeArchive(t *testing.T, dir, name string, lines []string) domain.TaskRecord {
	t.Helper()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := enc.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	task, err := domain.NewTaskRecord(path, filepath.Join(dir, "out", name), int64(buf.Len()))
	require.NoError(t, err)
	return task
}

func submissionLines(n int, every int) []string {
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sub := "pics"
		if i%every == 0 {
			sub = "MentalHealth"
		}
		lines = append(lines, fmt.Sprintf(`{"id":"p%d","subreddit":%q,"title":"t%d","created_utc":1577836800}`, i, sub, i))
	}
	return lines
}

func collect(updates chan domain.TaskRecord) func() []domain.TaskRecord {
	var (
		snapshots []domain.TaskRecord
		done      = make(chan struct{})
	)
	go func() {
		defer close(done)
		for u := range updates {
			snapshots = append(snapshots, u)
		}
	}()
	return func() []domain.TaskRecord {
		close(updates)
		<-done
		return snapshots
	}
}

func assertInvariants(t *testing.T, snapshots []domain.TaskRecord) {
	t.Helper()
	for _, s := range snapshots {
		assert.LessOrEqual(t, s.LinesMatched, s.LinesProcessed)
		assert.LessOrEqual(t, s.BytesProcessed, s.FileSize)
	}
}

func newEngine(s *memorySink, f *stubFetcher, opts Options) *Engine {
	m := filter.NewMatcher("subreddit", []string{"mentalhealth"})
	if f == nil {
		return New(m, s, nil, opts)
	}
	return New(m, s, f, opts)
}

func TestProcessFileMatchesAndBatches(t *testing.T) {
	task := writeArchive(t, t.TempDir(), "RS_2020-01.zst", submissionLines(100, 4))
	s := &memorySink{}
	e := newEngine(s, nil, Options{BatchSize: 10, ProgressEvery: 30, Decoder: decoder.Options{ChunkSize: 256}})

	updates := make(chan domain.TaskRecord, 16)
	finish := collect(updates)
	final := e.ProcessFile(context.Background(), task, updates)
	snapshots := finish()

	assert.True(t, final.Complete)
	assert.Empty(t, final.ErrorMessage)
	assert.Equal(t, int64(100), final.LinesProcessed)
	assert.Equal(t, int64(25), final.LinesMatched)
	assert.Zero(t, final.ErrorLines)
	assert.Equal(t, final.FileSize, final.BytesProcessed)

	subs, _ := s.totals()
	assert.Equal(t, 25, subs)
	require.Len(t, s.batches, 3)
	assert.Len(t, s.batches[0].Submissions, 10)
	assert.Len(t, s.batches[2].Submissions, 5)

	// start, three progress ticks (30, 60, 90) and the final record
	require.Len(t, snapshots, 5)
	assert.Zero(t, snapshots[0].LinesProcessed)
	assert.Equal(t, int64(30), snapshots[1].LinesProcessed)
	assert.Equal(t, int64(90), snapshots[3].LinesProcessed)
	assert.Equal(t, final, snapshots[4])
	assertInvariants(t, snapshots)
}

func TestProcessFileCorruptedLine(t *testing.T) {
	lines := submissionLines(10, 2)
	lines[3] = `{"id":"broken","subreddit":`

	task := writeArchive(t, t.TempDir(), "RS_2020-01.zst", lines)
	s := &memorySink{}
	e := newEngine(s, nil, Options{})

	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	final := e.ProcessFile(context.Background(), task, updates)
	finish()

	assert.True(t, final.Complete)
	assert.Equal(t, int64(1), final.ErrorLines)
	assert.Equal(t, int64(5), final.LinesMatched)
	assert.Equal(t, int64(10), final.LinesProcessed)
}

func TestProcessFileFetchesReplies(t *testing.T) {
	task := writeArchive(t, t.TempDir(), "RS_2020-01.zst", submissionLines(6, 3))
	s := &memorySink{}
	f := &stubFetcher{}
	e := newEngine(s, f, Options{FetchReplies: true})

	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	e.ProcessFile(context.Background(), task, updates)
	finish()

	assert.Equal(t, []string{"p0", "p3"}, f.calls)
	subs, comments := s.totals()
	assert.Equal(t, 2, subs)
	assert.Equal(t, 2, comments)
}

func TestProcessFileCommentArchive(t *testing.T) {
	lines := []string{
		`{"id":"c1","subreddit":"mentalhealth","link_id":"t3_p1","parent_id":"t3_p1","author":"x","body":"hi"}`,
		`{"id":"c2","subreddit":"pics","link_id":"t3_p2","parent_id":"t1_c9","author":"y","body":"no"}`,
	}
	task := writeArchive(t, t.TempDir(), "RC_2020-01.zst", lines)
	s := &memorySink{}
	f := &stubFetcher{}
	e := newEngine(s, f, Options{FetchReplies: true})

	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	final := e.ProcessFile(context.Background(), task, updates)
	finish()

	assert.True(t, final.Complete)
	assert.Empty(t, f.calls, "replies are only fetched for submissions")
	require.Len(t, s.batches, 1)
	require.Len(t, s.batches[0].Comments, 1)
	assert.Equal(t, "p1", s.batches[0].Comments[0].PostID)
}

func TestProcessFileSinkFailure(t *testing.T) {
	task := writeArchive(t, t.TempDir(), "RS_2020-01.zst", submissionLines(50, 1))
	s := &memorySink{err: errors.New("sink unavailable")}
	e := newEngine(s, nil, Options{BatchSize: 20})

	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	final := e.ProcessFile(context.Background(), task, updates)
	snapshots := finish()

	assert.False(t, final.Complete)
	assert.Contains(t, final.ErrorMessage, "sink unavailable")
	assert.True(t, final.Terminal())
	assert.Equal(t, int64(20), final.LinesProcessed, "halts on the line that filled the batch")
	assert.Equal(t, int64(20), final.LinesMatched)
	assertInvariants(t, snapshots)
	assertInvariants(t, []domain.TaskRecord{final})
}

func TestProcessFileDecodeFailure(t *testing.T) {
	lines := []string{`{"subreddit":"mentalhealth"}`, string(bytes.Repeat([]byte("x"), 4096))}
	task := writeArchive(t, t.TempDir(), "RS_2020-01.zst", lines)
	e := newEngine(&memorySink{}, nil, Options{Decoder: decoder.Options{ChunkSize: 64, MaxWindow: 512}})

	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	final := e.ProcessFile(context.Background(), task, updates)
	finish()

	assert.False(t, final.Complete)
	assert.Contains(t, final.ErrorMessage, decoder.ErrWindowExceeded.Error())
}

func TestProcessFileMissingFile(t *testing.T) {
	task, err := domain.NewTaskRecord(filepath.Join(t.TempDir(), "RS_2020-01.zst"), "out", 10)
	require.NoError(t, err)

	e := newEngine(&memorySink{}, nil, Options{})
	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	final := e.ProcessFile(context.Background(), task, updates)
	finish()

	assert.True(t, final.Failed())
	assert.False(t, final.Complete)
}

func TestProcessFileCancelled(t *testing.T) {
	task := writeArchive(t, t.TempDir(), "RS_2020-01.zst", submissionLines(10, 1))
	s := &memorySink{}
	e := newEngine(s, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	updates := make(chan domain.TaskRecord, 4)
	finish := collect(updates)
	final := e.ProcessFile(ctx, task, updates)
	finish()

	assert.False(t, final.Complete)
	assert.Contains(t, final.ErrorMessage, context.Canceled.Error())
	assert.Zero(t, final.LinesProcessed)
	assert.Empty(t, s.batches)
}
