// Package window stores fixed-window request counters.
package window

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"govid/internal/ratelimit/models"
	"govid/pkg/requestcontext"
)

// numShards spreads keys over independent locks so unrelated callers do not
// contend.
const numShards = 128

type shard struct {
	mu      sync.Mutex
	records map[string]*models.Record
}

// InMemoryStore is a striped, process-local counter store. Time comes from
// requestcontext.Now so a request sees the same clock as the rest of the
// pipeline.
type InMemoryStore struct {
	shards [numShards]shard
}

func NewInMemory() *InMemoryStore {
	s := &InMemoryStore{}
	for i := range s.shards {
		s.shards[i].records = make(map[string]*models.Record)
	}
	return s
}

func (s *InMemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%numShards]
}

// Increment counts one request for key. The first request of a window, or
// the first after it elapsed, starts a new window at count 1. Once count
// reaches limit further requests are denied without being counted.
func (s *InMemoryStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok || rec.Expired(now) {
		rec = &models.Record{Count: 0, WindowExpiry: now.Add(window)}
		sh.records[key] = rec
	}

	if rec.Count >= limit {
		return &models.Result{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   rec.WindowExpiry,
		}, nil
	}

	rec.Count++
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - rec.Count,
		ResetAt:   rec.WindowExpiry,
	}, nil
}

// Sweep removes records whose window has elapsed at now and returns how many
// were removed.
func (s *InMemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, rec := range sh.records {
			if rec.Expired(now) {
				delete(sh.records, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of live and not-yet-swept records.
func (s *InMemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Get returns a copy of the record for key, for inspection in tests and admin
// tooling.
func (s *InMemoryStore) Get(key string) (models.Record, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[key]
	if !ok {
		return models.Record{}, false
	}
	return *rec, true
}
