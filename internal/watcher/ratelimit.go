package watcher

import (
	"sync"
	"time"
)

// rollingLimiter caps events within a sliding window. One exists per
// watcher, so the key space of the shared HTTP limiter is unnecessary
// here; only the timestamps survive.
type rollingLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	sent   []time.Time
}

func newRollingLimiter(limit int, window time.Duration) *rollingLimiter {
	return &rollingLimiter{limit: limit, window: window}
}

// allow reports whether another event fits in the window and records it
// if so.
func (l *rollingLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.sent[:0]
	for _, t := range l.sent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.sent = kept

	if len(l.sent) >= l.limit {
		return false
	}
	l.sent = append(l.sent, now)
	return true
}
