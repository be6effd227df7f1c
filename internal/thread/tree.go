package thread

import (
	"bytes"
	"fmt"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/segmentio/encoding/json"
)

const autoModerator = "AutoModerator"

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	CreatedUTC float64         `json:"created_utc"`
	Body       *string         `json:"body"`
	Replies    json.RawMessage `json:"replies"` // "" or a listing
}

// ParseThread extracts the replies of a post from a comments page. The page
// is a two element array: the post listing and the reply listing. Replies
// deeper than maxDepth are dropped unless maxDepth is negative.
func ParseThread(postID string, page []byte, maxDepth int) ([]domain.Comment, error) {
	var listings []listing
	if err := json.Unmarshal(page, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", postID, err)
	}
	if len(listings) < 2 {
		return nil, fmt.Errorf("thread %s: expected 2 listings, got %d", postID, len(listings))
	}

	return walkReplies(postID, listings[1].Data.Children, maxDepth)
}

type frame struct {
	item     thing
	parentID string
	depth    int
}

// walkReplies flattens the reply tree in pre-order using an explicit stack
func walkReplies(postID string, roots []thing, maxDepth int) ([]domain.Comment, error) {
	var comments []domain.Comment

	stack := make([]frame, 0, len(roots))
	stack = pushReversed(stack, roots, postID, 0)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		data := f.item.Data
		if data.Body == nil || data.Author == autoModerator {
			continue
		}
		if maxDepth >= 0 && f.depth > maxDepth {
			continue
		}

		comments = append(comments, domain.Comment{
			ID:         data.ID,
			PostID:     postID,
			ParentID:   f.parentID,
			Author:     domain.RedditAuthor(data.Author),
			CreatedUTC: unixTime(data.CreatedUTC),
			Body:       *data.Body,
			Depth:      f.depth,
		})

		children, err := replyChildren(data.Replies)
		if err != nil {
			return nil, fmt.Errorf("failed to decode replies of %s: %w", data.ID, err)
		}
		stack = pushReversed(stack, children, data.ID, f.depth+1)
	}

	return comments, nil
}

// pushReversed pushes items so that the first one is popped first
func pushReversed(stack []frame, items []thing, parentID string, depth int) []frame {
	for i := len(items) - 1; i >= 0; i-- {
		stack = append(stack, frame{item: items[i], parentID: parentID, depth: depth})
	}
	return stack
}

func replyChildren(raw json.RawMessage) ([]thing, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}

	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return l.Data.Children, nil
}

func unixTime(secs float64) *time.Time {
	if secs == 0 {
		return nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t
}
