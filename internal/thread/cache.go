package thread

import (
	"fmt"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"
	"go.etcd.io/bbolt"
)

const bucketName = "replies"

// ReplyCache stores fetched replies per post id in BoltDB so a resumed run
// does not fetch the same thread twice
type ReplyCache struct {
	db *bbolt.DB
}

// OpenReplyCache opens (or creates) the cache at dbPath
func OpenReplyCache(dbPath string) (*ReplyCache, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open reply cache (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("Reply cache initialized")

	return &ReplyCache{db: db}, nil
}

// Get returns the cached replies of postID. found is false on a miss.
func (c *ReplyCache) Get(postID string) (comments []domain.Comment, found bool, err error) {
	err = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(postID))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &comments)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get replies: %w", err)
	}

	return comments, found, nil
}

// Put stores the replies of postID, replacing any previous entry
func (c *ReplyCache) Put(postID string, comments []domain.Comment) error {
	val, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("failed to encode replies: %w", err)
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(postID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to put replies: %w", err)
	}

	return nil
}

// Len returns the number of cached threads
func (c *ReplyCache) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the BoltDB database
func (c *ReplyCache) Close() error {
	log.Info().Msg("Closing reply cache")
	return c.db.Close()
}
