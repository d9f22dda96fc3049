package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits.
type RateLimitConfig struct {
	// MediationsPerMin caps tool call mediations per tool id. 0 = unlimited.
	MediationsPerMin int `yaml:"mediations_per_min"`

	// PerTool overrides MediationsPerMin for specific tool ids.
	PerTool map[string]int `yaml:"per_tool"`

	// ResolutionsPerMin caps approval resolutions per responder. Bounds the
	// damage a compromised or runaway responder can do. 0 = unlimited.
	ResolutionsPerMin int `yaml:"resolutions_per_min"`
}

// RateLimiter implements sliding window rate limiting using stdlib only.
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// AllowMediation checks whether another mediation for the tool is allowed.
// Returns nil if allowed, ErrRateLimited if the tool's limit is exceeded.
func (rl *RateLimiter) AllowMediation(tool string) error {
	limit := rl.config.MediationsPerMin
	if override, ok := rl.config.PerTool[tool]; ok {
		limit = override
	}
	return rl.allow("mediation:"+tool, limit)
}

// AllowResolution checks whether another resolution from the responder is
// allowed.
func (rl *RateLimiter) AllowResolution(responder string) error {
	return rl.allow("resolution:"+responder, rl.config.ResolutionsPerMin)
}

func (rl *RateLimiter) allow(key string, limit int) error {
	if limit <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{window: time.Minute, limit: limit}
		rl.buckets[key] = b
	}
	b.limit = limit

	now := rl.now()
	b.evict(now)

	if len(b.events) >= b.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	// Find the first event within the window (events are chronologically ordered).
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
