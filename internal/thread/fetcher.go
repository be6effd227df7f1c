// Package thread fetches the reply tree of matched submissions.
package thread

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/observability"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/retry"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultUserAgent = "Mozilla/5.0"

	defaultTimeout = 30 * time.Second
	maxPageBytes   = 64 << 20
)

// Fetcher retrieves the replies of a post. It never fails: an unrecoverable
// error for one post yields no replies.
type Fetcher interface {
	FetchReplies(ctx context.Context, postID string) []domain.Comment
}

// FetcherConfig configures RedditFetcher
type FetcherConfig struct {
	BaseURL     string
	UserAgent   string
	Rate        float64 // requests per second, <= 0 disables pacing
	MaxAttempts int
	MaxDepth    int // deepest reply kept, 0 = direct replies
	Timeout     time.Duration

	// Retry overrides the rate-limit backoff derived from MaxAttempts
	Retry *retry.Config
}

// RedditFetcher reads threads from the public Reddit JSON endpoint
type RedditFetcher struct {
	client    *http.Client
	baseURL   string
	userAgent string
	maxDepth  int
	limiter   *rate.Limiter
	retryCfg  retry.Config
	cache     *ReplyCache
	metrics   *observability.Metrics
}

// NewRedditFetcher creates a fetcher. cache and metrics may be nil.
func NewRedditFetcher(cfg FetcherConfig, cache *ReplyCache, metrics *observability.Metrics) *RedditFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	retryCfg := retry.RateLimitConfig(cfg.MaxAttempts)
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}

	return &RedditFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		maxDepth:  cfg.MaxDepth,
		limiter:   limiter,
		retryCfg:  retryCfg,
		cache:     cache,
		metrics:   metrics,
	}
}

// FetchReplies returns the replies of postID, from the cache when present
func (f *RedditFetcher) FetchReplies(ctx context.Context, postID string) []domain.Comment {
	if f.cache != nil {
		comments, found, err := f.cache.Get(postID)
		if err != nil {
			log.Warn().Err(err).Str("post_id", postID).Msg("Reply cache read failed")
		} else if found {
			f.metrics.ObserveFetch("cached")
			return comments
		}
	}

	url := fmt.Sprintf("%s/comments/%s.json", f.baseURL, postID)
	page, err := retry.DoWithResult(ctx, f.retryCfg, func() ([]byte, error) {
		return f.get(ctx, url)
	})
	if err != nil {
		log.Error().Err(err).Str("post_id", postID).Msg("Skipping replies of post")
		return nil
	}

	comments, err := ParseThread(postID, page, f.maxDepth)
	if err != nil {
		log.Error().Err(err).Str("post_id", postID).Msg("Skipping replies of post")
		return nil
	}

	if f.cache != nil {
		if err := f.cache.Put(postID, comments); err != nil {
			log.Warn().Err(err).Str("post_id", postID).Msg("Reply cache write failed")
		}
	}

	log.Debug().
		Str("post_id", postID).
		Int("comments", len(comments)).
		Msg("Extracted comments for post")

	return comments
}

func (f *RedditFetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveFetch("error")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		f.metrics.ObserveFetch("rate_limited")
		return nil, &retry.StatusError{Code: resp.StatusCode, URL: url}
	default:
		f.metrics.ObserveFetch("error")
		return nil, &retry.StatusError{Code: resp.StatusCode, URL: url}
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		f.metrics.ObserveFetch("error")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	f.metrics.ObserveFetch("ok")
	return page, nil
}

// NopFetcher returns no replies. Used when reply capture is disabled.
type NopFetcher struct{}

func (NopFetcher) FetchReplies(context.Context, string) []domain.Comment { return nil }
