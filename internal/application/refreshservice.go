package application

import (
	"context"
	"log/slog"
	"time"
)

// refreshRequest is a manual refresh trigger awaiting its result.
type refreshRequest struct {
	done chan []BackendStatus
}

// RefreshService runs the periodic background refresh and serializes manual
// refresh requests onto the same loop so a manual trigger never races a
// scheduled cycle.
type RefreshService struct {
	timeline  *TimelineService
	interval  time.Duration
	pageLimit int
	refreshCh chan refreshRequest
}

// NewRefreshService creates a RefreshService polling on interval, fetching
// up to pageLimit posts per backend per cycle.
func NewRefreshService(timeline *TimelineService, interval time.Duration, pageLimit int) *RefreshService {
	return &RefreshService{
		timeline:  timeline,
		interval:  interval,
		pageLimit: pageLimit,
		refreshCh: make(chan refreshRequest),
	}
}

// Start begins the refresh loop: an immediate cycle, then one per interval,
// interleaved with manual triggers. Blocks until the context is canceled.
func (s *RefreshService) Start(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh service stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case req := <-s.refreshCh:
			req.done <- s.timeline.Refresh(ctx, s.pageLimit)
		}
	}
}

// RefreshNow triggers an immediate refresh, bypassing the interval, and
// blocks until it completes or the context is canceled.
func (s *RefreshService) RefreshNow(ctx context.Context) ([]BackendStatus, error) {
	done := make(chan []BackendStatus, 1)

	select {
	case s.refreshCh <- refreshRequest{done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case statuses := <-done:
		return statuses, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *RefreshService) runCycle(ctx context.Context) {
	start := time.Now()
	statuses := s.timeline.Refresh(ctx, s.pageLimit)

	var fetched, degraded int
	for _, st := range statuses {
		fetched += st.Fetched
		if st.Err != nil {
			degraded++
		}
	}

	slog.Info("refresh cycle complete",
		"backends", len(statuses),
		"fetched", fetched,
		"degraded", degraded,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}
