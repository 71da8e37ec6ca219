// Package ratelimit provides token-bucket rate limiting. The control API
// uses the keyed Limiter per client and route; the scrape controller uses a
// bare Bucket to pace pagination so listing traversal cannot hammer a
// platform.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Bucket is a token bucket: capacity tokens of burst, refilling at a steady
// rate. Safe for concurrent use.
type Bucket struct {
	capacity   int
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	timeNow    func() time.Time // Injectable for testing
	mu         sync.Mutex
}

// NewBucket creates a full bucket refilling at refillRate tokens per second.
func NewBucket(capacity int, refillRate float64) *Bucket {
	return NewBucketWithClock(capacity, refillRate, time.Now)
}

// NewBucketWithClock creates a bucket with an injectable clock (for testing).
func NewBucketWithClock(capacity int, refillRate float64, timeNow func() time.Time) *Bucket {
	return &Bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: timeNow(),
		timeNow:    timeNow,
	}
}

// PerMinute creates a bucket allowing n operations per minute with a burst
// of one, the shape pagination pacing wants.
func PerMinute(n int) *Bucket {
	if n <= 0 {
		n = 1
	}
	return NewBucket(1, float64(n)/60.0)
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Delay reports how long until the next token without consuming anything.
func (b *Bucket) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1.0 {
		return 0
	}
	needed := 1.0 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// Wait blocks until a token is consumed or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		if b.Allow() {
			return nil
		}
		delay := b.Delay()
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Status returns remaining whole tokens and when the bucket refills fully.
func (b *Bucket) Status() (remaining int, resetTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	remaining = int(b.tokens)
	now := b.lastRefill
	if b.tokens < float64(b.capacity) {
		needed := float64(b.capacity) - b.tokens
		resetTime = now.Add(time.Duration(needed / b.refillRate * float64(time.Second)))
	} else {
		resetTime = now
	}
	return remaining, resetTime
}

// refill advances the bucket to now. Caller holds the lock.
func (b *Bucket) refill() {
	now := b.timeNow()
	elapsed := now.Sub(b.lastRefill)
	b.tokens = min(float64(b.capacity), b.tokens+elapsed.Seconds()*b.refillRate)
	b.lastRefill = now
}

// Rule is a per-route override for the keyed limiter.
type Rule struct {
	PathPrefix string
	Method     string // empty matches any method
	Limit      int    // requests per Window; <= 0 means unlimited
	Window     time.Duration
	Burst      int // <= 0 uses Limit
}

// Config holds keyed-limiter settings.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Rules           []Rule
}

// Info describes the outcome of one limiter check, for response headers.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter manages one bucket per client and route.
type Limiter struct {
	config *Config

	mu      sync.RWMutex
	buckets map[string]*Bucket

	accessMu   sync.Mutex
	lastAccess map[string]time.Time

	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
}

// NewLimiter creates a keyed limiter; nil config gets permissive defaults.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:         true,
			DefaultLimit:    300,
			DefaultWindow:   time.Minute,
			CleanupInterval: 5 * time.Minute,
		}
	}

	l := &Limiter{
		config:     config,
		buckets:    make(map[string]*Bucket),
		lastAccess: make(map[string]time.Time),
	}

	if config.Enabled && config.CleanupInterval > 0 {
		l.cleanupTicker = time.NewTicker(config.CleanupInterval)
		l.cleanupStop = make(chan struct{})
		go l.cleanupLoop()
	}
	return l
}

// Allow checks one request from clientID against path and method.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.config.Enabled {
		return true, Info{Allowed: true}
	}

	rule := l.match(path, method)
	if rule.Limit <= 0 {
		return true, Info{Allowed: true}
	}

	key := clientID + ":" + rule.PathPrefix + ":" + method
	bucket := l.bucket(key, rule)

	l.accessMu.Lock()
	l.lastAccess[key] = time.Now()
	l.accessMu.Unlock()

	allowed := bucket.Allow()
	remaining, resetTime := bucket.Status()

	var retryAfter time.Duration
	if !allowed {
		if retryAfter = time.Until(resetTime); retryAfter < 0 {
			retryAfter = 0
		}
	}
	return allowed, Info{
		Allowed:    allowed,
		Limit:      rule.Limit,
		Remaining:  remaining,
		ResetTime:  resetTime,
		RetryAfter: retryAfter,
	}
}

// match finds the first rule whose prefix and method cover the request,
// falling back to the config defaults.
func (l *Limiter) match(path, method string) Rule {
	for _, r := range l.config.Rules {
		if !strings.HasPrefix(path, r.PathPrefix) {
			continue
		}
		if r.Method != "" && !strings.EqualFold(r.Method, method) {
			continue
		}
		return r
	}
	return Rule{
		PathPrefix: "",
		Limit:      l.config.DefaultLimit,
		Window:     l.config.DefaultWindow,
		Burst:      l.config.DefaultLimit,
	}
}

func (l *Limiter) bucket(key string, rule Rule) *Bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	window := rule.Window
	if window <= 0 {
		window = time.Minute
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = rule.Limit
	}
	b = NewBucket(burst, float64(rule.Limit)/window.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.buckets[key]; ok {
		return existing
	}
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.removeStale()
		case <-l.cleanupStop:
			return
		}
	}
}

// removeStale drops buckets idle for over an hour.
func (l *Limiter) removeStale() {
	cutoff := time.Now().Add(-1 * time.Hour)

	l.accessMu.Lock()
	stale := make([]string, 0)
	for key, last := range l.lastAccess {
		if last.Before(cutoff) {
			stale = append(stale, key)
			delete(l.lastAccess, key)
		}
	}
	l.accessMu.Unlock()

	l.mu.Lock()
	for _, key := range stale {
		delete(l.buckets, key)
	}
	l.mu.Unlock()
}

// Stop halts the cleanup goroutine.
func (l *Limiter) Stop() {
	if l.cleanupTicker != nil {
		l.cleanupTicker.Stop()
	}
	if l.cleanupStop != nil {
		close(l.cleanupStop)
	}
}
