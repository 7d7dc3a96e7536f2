// Package ratelimit implements an in-memory fixed-window rate limiter with
// LRU-bounded bucket storage. It is process-local by design; the Check
// contract matches what a shared atomic counter store would expose, so a
// multi-instance deployment can swap the backing without touching callers.
package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

// Result is the outcome of one Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds a rejected caller should wait,
// rounded up, never below 1.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds())
	if r.ResetAt.Sub(now) > time.Duration(secs)*time.Second {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

type bucket struct {
	key     string
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by caller identity. Bucket storage
// is capped at maxBuckets; the internal list orders buckets by recency so the
// least-recently-touched one is evicted first once expired buckets are gone.
type Limiter struct {
	mu         sync.Mutex
	max        int
	window     time.Duration
	maxBuckets int
	buckets    map[string]*list.Element
	recency    *list.List // front = most recently used

	now func() time.Time
}

// New creates a Limiter allowing max requests per window across at most
// maxBuckets distinct keys. max <= 0 disables limiting entirely.
func New(max int, window time.Duration, maxBuckets int) *Limiter {
	if maxBuckets < 1 {
		maxBuckets = 1
	}
	return &Limiter{
		max:        max,
		window:     window,
		maxBuckets: maxBuckets,
		buckets:    make(map[string]*list.Element),
		recency:    list.New(),
		now:        time.Now,
	}
}

// Check counts a request for key against the current window and reports
// whether it is allowed. Past the limit, requests are rejected and the
// window's existing resetAt is returned unchanged.
func (l *Limiter) Check(key string) Result {
	if l.max <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	el, ok := l.buckets[key]
	if ok {
		b := el.Value.(*bucket)
		if now.Before(b.resetAt) {
			l.recency.MoveToFront(el)
			if b.count >= l.max {
				return Result{Allowed: false, Remaining: 0, ResetAt: b.resetAt}
			}
			b.count++
			return Result{Allowed: true, Remaining: l.max - b.count, ResetAt: b.resetAt}
		}
		// Window expired: start a fresh one in place.
		b.count = 1
		b.resetAt = now.Add(l.window)
		l.recency.MoveToFront(el)
		return Result{Allowed: true, Remaining: l.max - 1, ResetAt: b.resetAt}
	}

	if len(l.buckets) >= l.maxBuckets {
		l.evict(now)
	}

	b := &bucket{key: key, count: 1, resetAt: now.Add(l.window)}
	l.buckets[key] = l.recency.PushFront(b)
	return Result{Allowed: true, Remaining: l.max - 1, ResetAt: b.resetAt}
}

// evict makes room for one new bucket: expired windows go first, then the
// least-recently-used survivors.
func (l *Limiter) evict(now time.Time) {
	for el := l.recency.Back(); el != nil && len(l.buckets) >= l.maxBuckets; {
		prev := el.Prev()
		if b := el.Value.(*bucket); !now.Before(b.resetAt) {
			l.recency.Remove(el)
			delete(l.buckets, b.key)
		}
		el = prev
	}

	for len(l.buckets) >= l.maxBuckets {
		el := l.recency.Back()
		if el == nil {
			return
		}
		b := el.Value.(*bucket)
		l.recency.Remove(el)
		delete(l.buckets, b.key)
	}
}

// Len reports the number of live buckets. Intended for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
