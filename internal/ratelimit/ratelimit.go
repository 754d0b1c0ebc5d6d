// Package ratelimit provides per-account, per-instruction rate limiting.
//
// Each (instruction, account) pair gets a fixed window counter: the window
// resets strictly by elapsed time, never by client request. This trades the
// precision of a true sliding window for O(1) state per pair.
package ratelimit

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrRateLimitExceeded is returned when an account exceeds its quota for an
// instruction within the current window. Callers must back off, not retry.
var ErrRateLimitExceeded = errors.New("ratelimit: rate limit exceeded")

// Limit defines the quota for a single instruction.
type Limit struct {
	MaxCalls int
	Window   time.Duration
}

// Per-instruction quotas.
var DefaultLimits = map[string]Limit{
	"registration":  {MaxCalls: 5, Window: time.Hour},
	"escrow_create": {MaxCalls: 20, Window: time.Minute},
	"payment":       {MaxCalls: 100, Window: 10 * time.Second},
	"rating":        {MaxCalls: 10, Window: 5 * time.Minute},
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks per-account call windows for each configured instruction.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]*window
	stop    chan struct{}
}

// New creates a rate limiter with the given per-instruction limits and
// starts a background cleanup loop for stale windows.
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limits:  limits,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes windows that expired long ago.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, w := range l.windows {
				limit, ok := l.limits[instructionOf(key)]
				if !ok || now.Sub(w.start) > 2*limit.Window {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

// CheckAndIncrement records a call by account against an instruction's quota
// at the given time. If the current window has elapsed it resets; if the
// quota is already spent it fails with ErrRateLimitExceeded, otherwise the
// call counter is incremented.
//
// Instructions with no configured limit are always allowed.
func (l *Limiter) CheckAndIncrement(instruction, account string, now time.Time) error {
	limit, ok := l.limits[instruction]
	if !ok {
		return nil
	}

	key := instruction + "|" + account

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists {
		w = &window{start: now}
		l.windows[key] = w
	}

	if now.Sub(w.start) > limit.Window {
		w.start = now
		w.count = 0
	}

	if w.count >= limit.MaxCalls {
		return ErrRateLimitExceeded
	}
	w.count++
	return nil
}

func instructionOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i]
		}
	}
	return key
}

// Middleware returns a Gin middleware that applies the named instruction's
// quota per authenticated agent (falling back to client IP for anonymous
// requests).
func (l *Limiter) Middleware(instruction string) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.GetString("authAgentAddr")
		if account == "" {
			account = "ip:" + c.ClientIP()
		}

		if err := l.CheckAndIncrement(instruction, account, time.Now()); err != nil {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many " + instruction + " calls. Back off before retrying.",
				"instruction": instruction,
			})
			return
		}

		c.Next()
	}
}
