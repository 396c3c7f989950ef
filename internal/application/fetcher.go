// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
	"github.com/mhsenkow/snapfeed/internal/domain/port/driven"
)

// Default pacing for the fetch loop. The delays are proactive: the backends
// penalize bursty access even under the nominal quota, so the engine spaces
// requests out before being told to.
const (
	DefaultMaxPageSize       = 40
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultStepDelay         = 250 * time.Millisecond
	DefaultMaxDelay          = 5 * time.Second
	DefaultRateLimitCooldown = 30 * time.Second
)

// FetchResult carries whatever a fetch run gathered. Posts is never
// discarded on failure: a partial page set plus Err is the expected outcome
// under heavy aggregation load, not an exception.
type FetchResult struct {
	Posts      []model.UnifiedPost
	NextCursor string
	// HasMore is true iff the last page returned a non-empty cursor.
	HasMore bool
	// Partial is true when the run stopped before gathering totalDesired
	// posts for any reason other than feed exhaustion.
	Partial bool
	// Err is the failure that ended the run early, if any. Posts gathered
	// before it remain valid.
	Err error
}

// Fetcher is the paginated fetch engine: cursor chaining, proactive
// escalating delay, a single cooldown retry on rate-limit signals, and a
// bounded request budget. Pages are fetched strictly sequentially because
// each page's cursor depends on the previous page's result.
type Fetcher struct {
	MaxPageSize       int
	BaseDelay         time.Duration
	StepDelay         time.Duration
	MaxDelay          time.Duration
	RateLimitCooldown time.Duration

	// sleep is swapped in tests to observe pacing without real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher with the default pacing constants.
func NewFetcher() *Fetcher {
	return &Fetcher{
		MaxPageSize:       DefaultMaxPageSize,
		BaseDelay:         DefaultBaseDelay,
		StepDelay:         DefaultStepDelay,
		MaxDelay:          DefaultMaxDelay,
		RateLimitCooldown: DefaultRateLimitCooldown,
		sleep:             sleepContext,
	}
}

// FetchN gathers up to totalDesired posts from src, starting at startCursor.
// The request budget is ceil(totalDesired / MaxPageSize); an empty page
// means the feed is exhausted and stops the loop without error. A rate-limit
// signal triggers one fixed-cooldown retry of the same page; if that retry
// also fails, or any other request fails, the posts gathered so far are
// returned with Partial set rather than thrown away. Cancellation between
// pages returns partial results cleanly.
func (f *Fetcher) FetchN(ctx context.Context, src driven.TimelineSource, startCursor string, totalDesired int) FetchResult {
	result := FetchResult{NextCursor: startCursor}
	if totalDesired <= 0 {
		return result
	}

	maxRequests := (totalDesired + f.MaxPageSize - 1) / f.MaxPageSize
	cursor := startCursor
	requestsMade := 0

	for len(result.Posts) < totalDesired && requestsMade < maxRequests {
		if requestsMade > 0 {
			if err := f.sleep(ctx, f.adaptiveDelay(requestsMade)); err != nil {
				result.Partial = true
				result.Err = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			result.Partial = true
			result.Err = err
			break
		}

		limit := totalDesired - len(result.Posts)
		if limit > f.MaxPageSize {
			limit = f.MaxPageSize
		}

		page, err := src.FetchPage(ctx, cursor, limit)
		requestsMade++

		var rateLimited *model.RateLimitError
		if errors.As(err, &rateLimited) {
			page, err = f.retryAfterCooldown(ctx, src, cursor, limit, rateLimited)
		}
		if err != nil {
			result.Partial = true
			result.Err = err
			break
		}

		if len(page.Posts) == 0 {
			// Exhausted; not an error.
			result.NextCursor = page.NextCursor
			break
		}

		result.Posts = append(result.Posts, page.Posts...)
		cursor = page.NextCursor
		result.NextCursor = cursor
		if cursor == "" {
			break
		}
	}

	if len(result.Posts) > totalDesired {
		result.Posts = result.Posts[:totalDesired]
	}
	result.HasMore = result.NextCursor != ""
	return result
}

// retryAfterCooldown handles a rate-limit signal: wait out a fixed cooldown
// (or the backend's Retry-After when longer) and retry the same page exactly
// once. The retry does not consume request budget.
func (f *Fetcher) retryAfterCooldown(ctx context.Context, src driven.TimelineSource, cursor string, limit int, rl *model.RateLimitError) (model.FeedPage, error) {
	cooldown := f.RateLimitCooldown
	if rl.RetryAfter > cooldown {
		cooldown = rl.RetryAfter
	}

	slog.Warn("rate limited, cooling down before single retry",
		"platform", src.Platform(),
		"cooldown", cooldown,
	)

	if err := f.sleep(ctx, cooldown); err != nil {
		return model.FeedPage{}, err
	}
	return src.FetchPage(ctx, cursor, limit)
}

// adaptiveDelay returns min(BaseDelay + requestsMade*StepDelay, MaxDelay).
func (f *Fetcher) adaptiveDelay(requestsMade int) time.Duration {
	d := f.BaseDelay + time.Duration(requestsMade)*f.StepDelay
	if d > f.MaxDelay {
		d = f.MaxDelay
	}
	return d
}

// sleepContext waits for d or until ctx is canceled, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
