package domain

import "time"

// DeletedAuthor is the placeholder Reddit uses for removed accounts
const DeletedAuthor = "[deleted]"

// Submission represents a matched post extracted from a submissions archive
type Submission struct {
	ID            string     `json:"id" db:"id"`
	Author        string     `json:"author,omitempty" db:"author"`
	Title         string     `json:"title,omitempty" db:"title"`
	CreatedUTC    *time.Time `json:"created_utc,omitempty" db:"created_utc"`
	Selftext      string     `json:"selftext" db:"selftext"`
	Subreddit     string     `json:"subreddit,omitempty" db:"subreddit"`
	LinkFlairText string     `json:"link_flair_text,omitempty" db:"link_flair_text"`
	Link          string     `json:"link,omitempty" db:"link"`
	NumComments   int64      `json:"num_comments" db:"num_comments"`
	Score         int64      `json:"score" db:"score"`
	RunID         string     `json:"-" db:"run_id"`
}

// Comment represents a reply in a thread, either fetched for a matched
// submission or matched directly in a comments archive.
type Comment struct {
	ID         string     `json:"id" db:"id"`
	PostID     string     `json:"post_id" db:"post_id"`
	ParentID   string     `json:"parent_id" db:"parent_id"`
	Author     string     `json:"author" db:"author"`
	CreatedUTC *time.Time `json:"created_utc,omitempty" db:"created_utc"`
	Body       string     `json:"body" db:"body"`
	Depth      int        `json:"depth" db:"depth"`
	RunID      string     `json:"-" db:"run_id"`
}

// Batch groups records flushed to a sink in one write
type Batch struct {
	Submissions []Submission
	Comments    []Comment
}

// Len returns the number of records in the batch
func (b *Batch) Len() int {
	return len(b.Submissions) + len(b.Comments)
}

// Empty reports whether there is nothing to flush
func (b *Batch) Empty() bool {
	return b.Len() == 0
}

// Reset drops all records, keeping the allocated capacity
func (b *Batch) Reset() {
	b.Submissions = b.Submissions[:0]
	b.Comments = b.Comments[:0]
}

// RedditAuthor formats an account name the way records are stored
func RedditAuthor(name string) string {
	if name == "" {
		return ""
	}
	if name == DeletedAuthor {
		return DeletedAuthor
	}
	return "u/" + name
}
