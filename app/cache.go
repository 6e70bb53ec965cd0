// Package app provides orchestration services over the domain and adapters.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/bracketai/usagegate/domain/usage"
	"github.com/bracketai/usagegate/ports"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a report for a cache key on miss.
type ComputeFunc func(ctx context.Context) (usage.Report, error)

// ReportCache memoizes aggregation results by (window, source) key with a
// wall-clock TTL. Its core correctness property is the thundering-herd
// guard: at most one computation runs per key, and concurrent callers for
// that key all receive the one result.
//
// The cache is size-unbounded: the key space is dominated by window
// granularity and stays small in practice. Entries live in a plain map so
// an eviction policy can be layered on later.
type ReportCache struct {
	clock         ports.Clock
	ttl           time.Duration
	computeBudget time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	report     usage.Report
	insertedAt time.Time
}

// NewReportCache creates a cache. computeBudget bounds a single computation
// once it is detached from the initiating request.
func NewReportCache(clk ports.Clock, ttl, computeBudget time.Duration) *ReportCache {
	if computeBudget == 0 {
		computeBudget = time.Minute
	}
	return &ReportCache{
		clock:         clk,
		ttl:           ttl,
		computeBudget: computeBudget,
		entries:       make(map[string]cacheEntry),
	}
}

// GetOrCompute returns the cached report for key, or runs fn to produce,
// store and return a fresh one. The returned bool reports a cache hit.
//
// A computation runs on a context detached from the initiating request, so
// a client disconnecting mid-flight does not cancel the result for other
// waiters; the completed result still populates the cache. A failed
// computation leaves no entry and the next caller retries from scratch.
func (c *ReportCache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) (usage.Report, bool, error) {
	if report, ok := c.lookup(key); ok {
		return report, true, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A previous flight may have committed while we queued.
		if report, ok := c.lookup(key); ok {
			return report, nil
		}

		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeBudget)
		defer cancel()

		report, err := fn(computeCtx)
		if err != nil {
			return usage.Report{}, err
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{report: report, insertedAt: c.clock.Now()}
		c.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return usage.Report{}, false, err
	}
	return v.(usage.Report), false, nil
}

// lookup returns the entry for key if present and unexpired. An expired
// entry is logically absent; it is evicted lazily here.
func (c *ReportCache) lookup(key string) (usage.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return usage.Report{}, false
	}
	if c.clock.Now().Sub(entry.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return usage.Report{}, false
	}
	return entry.report, true
}

// Len reports the number of physically present entries (tests).
func (c *ReportCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
