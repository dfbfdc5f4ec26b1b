package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/stepflow/errors"
)

// RateLimit allows each client IP perMinute requests per clock minute.
// Over-budget requests get 429 with Retry-After set to the seconds left in
// the window.
func RateLimit(perMinute int) gin.HandlerFunc {
	w := &windows{limit: perMinute, counts: make(map[string]int)}
	return func(c *gin.Context) {
		ok, retry := w.take(c.ClientIP(), time.Now())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			abort(c, apperrors.RateLimited(perMinute))
			return
		}
		c.Next()
	}
}

// windows counts requests per key in fixed one-minute windows. Counts are
// dropped wholesale when the window rolls over.
type windows struct {
	mu     sync.Mutex
	limit  int
	start  time.Time
	counts map[string]int
}

func (w *windows) take(key string, now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if window := now.Truncate(time.Minute); !window.Equal(w.start) {
		w.start = window
		clear(w.counts)
	}
	if w.counts[key] >= w.limit {
		return false, w.start.Add(time.Minute).Sub(now)
	}
	w.counts[key]++
	return true, 0
}
