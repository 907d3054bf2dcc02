// Package ratelimit implements the fixed-window, per-caller-key rate
// limiter described in the component design. It is single-process and
// best-effort; it is not a security boundary.
package ratelimit

import (
	"sync"
	"time"

	"github.com/tm2bridge/tm2bridge/internal/config"
)

type bucket struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Result is what a caller needs to set response headers and decide
// whether to forward the request.
type Result struct {
	Allowed     bool
	Limit       int
	Remaining   int
	ResetSecs   int64
	RetryAfter  int64
}

// Class is one configured route class (standard, mapping, batch, search, health).
type Class struct {
	name    string
	cfg     config.RateLimitClassConfig
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewClass(name string, cfg config.RateLimitClassConfig) *Class {
	return &Class{name: name, cfg: cfg, buckets: make(map[string]*bucket)}
}

// Name is the class label used for metrics.
func (c *Class) Name() string { return c.name }

// Allow increments the caller's bucket, resetting it if the window has
// elapsed, and reports whether the request should be forwarded.
func (c *Class) Allow(key string) Result {
	now := time.Now()
	windowMS := time.Duration(c.cfg.WindowMS) * time.Millisecond

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[key]
	if !ok || now.Sub(b.windowStart) > windowMS {
		b = &bucket{windowStart: now}
		c.buckets[key] = b
	}
	b.count++
	b.lastSeen = now

	reset := windowMS - now.Sub(b.windowStart)
	if reset < 0 {
		reset = 0
	}

	remaining := c.cfg.MaxRequests - b.count
	if remaining < 0 {
		remaining = 0
	}

	allowed := b.count <= c.cfg.MaxRequests
	return Result{
		Allowed:    allowed,
		Limit:      c.cfg.MaxRequests,
		Remaining:  remaining,
		ResetSecs:  int64(reset / time.Second),
		RetryAfter: int64(reset / time.Second),
	}
}

// Message is the configured 429 message for this class.
func (c *Class) Message() string { return c.cfg.Message }

// sweep discards buckets idle for longer than idleAfter.
func (c *Class) sweep(idleAfter time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(c.buckets, key)
		}
	}
}

// Snapshot reports the number of tracked callers, for /admin/rate-limit/stats.
func (c *Class) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// Limiter bundles the five configured classes and runs the idle-bucket sweep.
type Limiter struct {
	Standard *Class
	Mapping  *Class
	Batch    *Class
	Search   *Class
	Health   *Class

	stop chan struct{}
}

func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		Standard: NewClass("standard", cfg.Standard),
		Mapping:  NewClass("mapping", cfg.Mapping),
		Batch:    NewClass("batch", cfg.Batch),
		Search:   NewClass("search", cfg.Search),
		Health:   NewClass("health", cfg.Health),
		stop:     make(chan struct{}),
	}
	go l.runSweep()
	return l
}

func (l *Limiter) runSweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, c := range []*Class{l.Standard, l.Mapping, l.Batch, l.Search, l.Health} {
				c.sweep(60 * time.Second)
			}
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) Stop() {
	close(l.stop)
}

// Snapshot reports the tracked-caller count per class, for admin stats.
func (l *Limiter) Snapshot() map[string]int {
	return map[string]int{
		"standard": l.Standard.Snapshot(),
		"mapping":  l.Mapping.Snapshot(),
		"batch":    l.Batch.Snapshot(),
		"search":   l.Search.Snapshot(),
		"health":   l.Health.Snapshot(),
	}
}
