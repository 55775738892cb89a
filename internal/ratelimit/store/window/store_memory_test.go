package window

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"govid/pkg/requestcontext"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store  *InMemoryStore
	start  time.Time
	window time.Duration
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.start = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.window = 15 * time.Minute
}

func (s *InMemoryStoreSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *InMemoryStoreSuite) TestNthRequestAllowedNPlusOneDenied() {
	const limit = 5
	ctx := s.at(s.start)

	for i := 1; i <= limit; i++ {
		res, err := s.store.Increment(ctx, "k", limit, s.window)
		s.Require().NoError(err)
		s.True(res.Allowed, "request %d should be allowed", i)
		s.Equal(limit-i, res.Remaining)
		s.Equal(s.start.Add(s.window), res.ResetAt)
	}

	res, err := s.store.Increment(ctx, "k", limit, s.window)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)

	rec, ok := s.store.Get("k")
	s.Require().True(ok)
	s.Equal(limit, rec.Count, "denied requests are not counted")
}

func (s *InMemoryStoreSuite) TestWindowResetsToOne() {
	const limit = 2
	for range limit + 1 {
		_, err := s.store.Increment(s.at(s.start), "k", limit, s.window)
		s.Require().NoError(err)
	}

	later := s.start.Add(s.window)
	res, err := s.store.Increment(s.at(later), "k", limit, s.window)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(limit-1, res.Remaining)

	rec, _ := s.store.Get("k")
	s.Equal(1, rec.Count)
	s.Equal(later.Add(s.window), rec.WindowExpiry)
}

func (s *InMemoryStoreSuite) TestKeysAreIndependent() {
	ctx := s.at(s.start)
	_, _ = s.store.Increment(ctx, "a", 1, s.window)

	res, err := s.store.Increment(ctx, "b", 1, s.window)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *InMemoryStoreSuite) TestConcurrentBurstLosesNoIncrements() {
	const (
		limit      = 100
		goroutines = 500
	)
	ctx := s.at(s.start)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range goroutines {
		wg.Go(func() {
			res, err := s.store.Increment(ctx, "burst", limit, s.window)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
	rec, _ := s.store.Get("burst")
	s.Equal(limit, rec.Count)
}

func (s *InMemoryStoreSuite) TestSweepRemovesOnlyExpired() {
	_, _ = s.store.Increment(s.at(s.start), "old", 10, time.Minute)
	_, _ = s.store.Increment(s.at(s.start), "fresh", 10, time.Hour)
	s.Equal(2, s.store.Len())

	removed := s.store.Sweep(s.start.Add(2 * time.Minute))
	s.Equal(1, removed)
	s.Equal(1, s.store.Len())
	_, ok := s.store.Get("fresh")
	s.True(ok)
}
