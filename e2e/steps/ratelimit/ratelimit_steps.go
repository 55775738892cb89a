package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is the part of the scenario context these steps use.
type TestContext interface {
	GET(path string) error
	LastStatus() int
	LastHeader(key string) string
	SetClientAddress(addr string)
}

// RegisterSteps registers fixed-window rate limit steps. Each scenario picks
// a fresh client address so its window is not shared with other scenarios.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I call from a fresh client address$`, steps.freshAddress)
	ctx.Step(`^I exhaust the rate limit on "([^"]*)"$`, steps.exhaust)
	ctx.Step(`^every request within the limit should have succeeded$`, steps.allSucceeded)
	ctx.Step(`^the rate limit headers should be present$`, steps.headersPresent)
}

type ratelimitSteps struct {
	tc     TestContext
	sent   int
	failed int
}

func (s *ratelimitSteps) freshAddress(context.Context) error {
	// 198.18.0.0/15 is reserved for benchmarking.
	s.tc.SetClientAddress(fmt.Sprintf("198.18.%d.%d", rand.IntN(256), 1+rand.IntN(254)))
	return nil
}

// exhaust sends requests until the window has no remaining capacity. The
// limit is read from the first response.
func (s *ratelimitSteps) exhaust(_ context.Context, path string) error {
	if err := s.tc.GET(path); err != nil {
		return err
	}
	s.count()
	limit, err := strconv.Atoi(s.tc.LastHeader("X-RateLimit-Limit"))
	if err != nil {
		return fmt.Errorf("X-RateLimit-Limit missing or invalid: %w", err)
	}
	for s.sent < limit {
		if err := s.tc.GET(path); err != nil {
			return err
		}
		s.count()
	}
	if remaining := s.tc.LastHeader("X-RateLimit-Remaining"); remaining != "0" {
		return fmt.Errorf("expected no remaining capacity after %d requests, got %s", s.sent, remaining)
	}
	return nil
}

func (s *ratelimitSteps) count() {
	s.sent++
	if s.tc.LastStatus() != http.StatusOK {
		s.failed++
	}
}

func (s *ratelimitSteps) allSucceeded(context.Context) error {
	if s.failed > 0 {
		return fmt.Errorf("%d of %d requests within the limit failed", s.failed, s.sent)
	}
	return nil
}

func (s *ratelimitSteps) headersPresent(context.Context) error {
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if s.tc.LastHeader(h) == "" {
			return fmt.Errorf("header %s missing", h)
		}
	}
	return nil
}
