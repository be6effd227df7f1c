package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicate(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		observed string
		want     bool
	}{
		{"single exact", []string{"mentalhealth"}, "mentalhealth", true},
		{"single substring", []string{"mentalhealth"}, "mentalhealthuk", true},
		{"single miss", []string{"mentalhealth"}, "askreddit", false},
		{"multi exact", []string{"depression", "anxiety"}, "anxiety", true},
		{"multi substring", []string{"depression", "anxiety"}, "socialanxietyhelp", true},
		{"multi miss", []string{"depression", "anxiety"}, "gaming", false},
		{"no values", nil, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPredicate(tt.values)(tt.observed))
		})
	}
}

func TestMatcherMatch(t *testing.T) {
	m := NewMatcher("subreddit", []string{"mentalhealth"})

	tests := []struct {
		name      string
		line      string
		wantMatch bool
		wantErr   error
		anyErr    bool
	}{
		{name: "case-insensitive match", line: `{"subreddit":"MentalHealth","id":"a"}`, wantMatch: true},
		{name: "no match", line: `{"subreddit":"pics","id":"b"}`},
		{name: "malformed json", line: `{"subreddit":`, anyErr: true},
		{name: "empty line", line: ``, anyErr: true},
		{name: "missing field", line: `{"id":"c"}`, wantErr: ErrFieldMissing},
		{name: "null field", line: `{"subreddit":null}`, wantErr: ErrFieldNotString},
		{name: "numeric field", line: `{"subreddit":12}`, wantErr: ErrFieldNotString},
		{name: "json null", line: `null`, wantErr: ErrFieldMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, matched, err := m.Match(tt.line)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantMatch, matched)
			if matched {
				assert.NotNil(t, record)
			}
		})
	}
}

func TestToSubmission(t *testing.T) {
	m := NewMatcher("subreddit", []string{"mentalhealth"})
	line := `{"id":"abc","author":"someone","title":"Hi","created_utc":"1577836800","selftext":"body",` +
		`"subreddit":"mentalhealth","link_flair_text":"Support","permalink":"/r/mentalhealth/comments/abc/hi/",` +
		`"num_comments":3,"score":10}`

	record, matched, err := m.Match(line)
	require.NoError(t, err)
	require.True(t, matched)

	s := ToSubmission(record)
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, "u/someone", s.Author)
	assert.Equal(t, "Hi", s.Title)
	require.NotNil(t, s.CreatedUTC)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), *s.CreatedUTC)
	assert.Equal(t, "https://www.reddit.com/r/mentalhealth/comments/abc/hi/", s.Link)
	assert.Equal(t, int64(3), s.NumComments)
	assert.Equal(t, int64(10), s.Score)
}

func TestToSubmissionDefaults(t *testing.T) {
	s := ToSubmission(Record{"id": "x"})

	assert.Empty(t, s.Author)
	assert.Empty(t, s.Selftext)
	assert.Empty(t, s.Link)
	assert.Nil(t, s.CreatedUTC)
}

func TestToComment(t *testing.T) {
	top := ToComment(Record{
		"id": "c1", "link_id": "t3_p1", "parent_id": "t3_p1",
		"author": "[deleted]", "body": "hello", "created_utc": float64(1577836800),
	})
	assert.Equal(t, "p1", top.PostID)
	assert.Equal(t, "p1", top.ParentID)
	assert.Equal(t, "[deleted]", top.Author)
	assert.Equal(t, 0, top.Depth)

	nested := ToComment(Record{"id": "c2", "link_id": "t3_p1", "parent_id": "t1_c1"})
	assert.Equal(t, "c1", nested.ParentID)
	assert.Equal(t, -1, nested.Depth)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "the value a", Describe([]string{"a"}))
	assert.Equal(t, "any of the values a,b", Describe([]string{"a", "b"}))
	assert.Equal(t, "any of 6 values", Describe([]string{"a", "b", "c", "d", "e", "f"}))
}
