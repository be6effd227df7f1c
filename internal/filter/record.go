package filter

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
)

const redditBaseURL = "https://www.reddit.com"

// Record is one parsed archive line
type Record map[string]any

// String returns the string value at key, or "" when absent or not a string
func (r Record) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Int returns the integer value at key. Numeric strings are accepted since
// older dumps store some counters as strings.
func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
			return int64(f)
		}
	}
	return 0
}

// Time interprets the value at key as unix seconds
func (r Record) Time(key string) *time.Time {
	if _, ok := r[key]; !ok {
		return nil
	}
	secs := r.Int(key)
	if secs == 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

// ToSubmission extracts a submission from a submissions archive line
func ToSubmission(r Record) domain.Submission {
	s := domain.Submission{
		ID:            r.String("id"),
		Author:        domain.RedditAuthor(r.String("author")),
		Title:         r.String("title"),
		CreatedUTC:    r.Time("created_utc"),
		Selftext:      r.String("selftext"),
		Subreddit:     r.String("subreddit"),
		LinkFlairText: r.String("link_flair_text"),
		NumComments:   r.Int("num_comments"),
		Score:         r.Int("score"),
	}
	if permalink := r.String("permalink"); permalink != "" {
		s.Link = redditBaseURL + permalink
	}
	return s
}

// ToComment extracts a comment from a comments archive line. Archive lines
// do not carry nesting depth: top-level comments get depth 0, deeper ones -1.
func ToComment(r Record) domain.Comment {
	parent := r.String("parent_id")

	depth := -1
	if strings.HasPrefix(parent, "t3_") {
		depth = 0
	}

	return domain.Comment{
		ID:         r.String("id"),
		PostID:     trimKind(r.String("link_id")),
		ParentID:   trimKind(parent),
		Author:     domain.RedditAuthor(r.String("author")),
		CreatedUTC: r.Time("created_utc"),
		Body:       r.String("body"),
		Depth:      depth,
	}
}

// trimKind drops the "t1_"/"t3_" fullname prefix
func trimKind(fullname string) string {
	if len(fullname) > 3 && fullname[0] == 't' && fullname[2] == '_' {
		return fullname[3:]
	}
	return fullname
}
