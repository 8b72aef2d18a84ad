package voting

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientWarnInterval is the minimum spacing between repeated "no master
// configured" warnings for the same instance (spec.md §4.1, CLIENT_WARN_SECS).
const ClientWarnInterval = 60 * time.Second

// warnLimiter rate-limits a recurring warning per instance so a flood of
// unauthenticated clients against a master-less node doesn't spam the log.
type warnLimiter struct {
	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

func newWarnLimiter() *warnLimiter {
	return &warnLimiter{limiters: make(map[int]*rate.Limiter)}
}

// Allow reports whether a warning for node should be emitted now, admitting
// at most one event per ClientWarnInterval per node.
func (w *warnLimiter) Allow(node int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	lim, ok := w.limiters[node]
	if !ok {
		lim = rate.NewLimiter(rate.Every(ClientWarnInterval), 1)
		w.limiters[node] = lim
	}
	return lim.Allow()
}
