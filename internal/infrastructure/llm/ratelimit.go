package llm

import (
	"context"
	"sync"
	"time"
)

// windowLimiter enforces a sliding-window rate limit over a trailing window.
// At capacity it blocks the caller until the oldest recorded call leaves the
// window — requests are delayed, never dropped.
//
// The check-wait-record sequence runs as one atomic unit under the mutex so a
// concurrent reimplementation of the pipeline cannot overshoot the window.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Acquire blocks until the caller may issue a request, recording the call
// timestamp on success. A non-positive limit disables throttling.
func (l *windowLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		now := l.now()
		l.evict(now)

		if l.limit <= 0 || len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			return nil
		}

		wait := l.window - now.Sub(l.calls[0])
		if wait <= 0 {
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// evict drops timestamps that have left the trailing window.
func (l *windowLimiter) evict(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
