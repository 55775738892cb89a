// Package advisory explains consent grants to their owners. Explanations are
// read-only context for the citizen and have no effect on authorization.
package advisory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"govid/internal/advisory/generator"
	"govid/internal/advisory/metrics"
	consentmodels "govid/internal/consent/models"
	"govid/pkg/requestcontext"
)

const (
	SourceGenerator = "generator"
	SourceHeuristic = "heuristic"

	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	DefaultCacheSize       = 256
	DefaultCacheTTL        = 10 * time.Minute
	DefaultGenerateTimeout = 5 * time.Second
)

// Subject is the read-only view of a grant the explainer works from.
type Subject struct {
	ConsentID     string
	Status        string
	RequesterName string
	RequesterRole string
	Attributes    []string
	Purpose       string
	CreatedAt     time.Time
	ValidUntil    time.Time
}

type AttributeRisk struct {
	Name        string `json:"name"`
	Sensitivity int    `json:"sensitivity"`
}

type Explanation struct {
	ConsentID  string          `json:"consent_id"`
	Summary    string          `json:"summary"`
	RiskScore  int             `json:"risk_score"`
	RiskLevel  string          `json:"risk_level"`
	Source     string          `json:"source"`
	Attributes []AttributeRisk `json:"attributes"`
}

// Explainer scores grants deterministically and asks a generator for prose,
// falling back to a template when the generator is unavailable. Generator
// answers are cached per grant version.
type Explainer struct {
	gen     generator.Generator
	cache   *expirable.LRU[string, Explanation]
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Explainer)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Explainer) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Explainer) { e.metrics = m }
}

// WithCache sizes the explanation cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(e *Explainer) { e.cache = expirable.NewLRU[string, Explanation](size, nil, ttl) }
}

// WithGenerateTimeout bounds the shared generator call, which does not follow
// any single caller's cancellation.
func WithGenerateTimeout(d time.Duration) Option {
	return func(e *Explainer) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func New(gen generator.Generator, opts ...Option) *Explainer {
	if gen == nil {
		gen = generator.Unavailable{}
	}
	e := &Explainer{gen: gen, timeout: DefaultGenerateTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = expirable.NewLRU[string, Explanation](DefaultCacheSize, nil, DefaultCacheTTL)
	}
	return e
}

// Explain never fails: when the generator cannot answer, the summary is built
// from a template. Concurrent calls for the same grant share one generator
// request.
func (e *Explainer) Explain(ctx context.Context, s Subject) Explanation {
	key := cacheKey(s)
	if cached, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.IncCacheHit()
		}
		return cached
	}
	if e.metrics != nil {
		e.metrics.IncCacheMiss()
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.compute(shared, s, key), nil
	})
	return v.(Explanation)
}

func (e *Explainer) compute(ctx context.Context, s Subject, key string) Explanation {
	score, risks := Score(s)
	out := Explanation{
		ConsentID:  s.ConsentID,
		RiskScore:  score,
		RiskLevel:  Level(score),
		Attributes: risks,
	}

	text, err := e.gen.Generate(ctx, prompt(s, out))
	if err != nil {
		if !errors.Is(err, generator.ErrUnavailable) {
			e.logger.WarnContext(ctx, "advisory generator failed",
				"consent_id", s.ConsentID,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		out.Summary = heuristicSummary(s, out)
		out.Source = SourceHeuristic
		e.observe(SourceHeuristic)
		return out
	}

	out.Summary = text
	out.Source = SourceGenerator
	e.cache.Add(key, out)
	e.observe(SourceGenerator)
	return out
}

func (e *Explainer) observe(source string) {
	if e.metrics != nil {
		e.metrics.IncExplanation(source)
	}
}

// Score rates a grant from 0 to 100 using attribute sensitivity, attribute
// count and grant length. Attributes are returned most sensitive first.
func Score(s Subject) (int, []AttributeRisk) {
	risks := make([]AttributeRisk, 0, len(s.Attributes))
	total := 0
	for _, name := range s.Attributes {
		w := consentmodels.Sensitivity(name)
		total += w
		risks = append(risks, AttributeRisk{Name: name, Sensitivity: w})
	}
	slices.SortStableFunc(risks, func(a, b AttributeRisk) int {
		return cmp.Compare(b.Sensitivity, a.Sensitivity)
	})

	score := total * 4
	if len(s.Attributes) > 5 {
		score += 10
	}
	switch days := s.ValidUntil.Sub(s.CreatedAt).Hours() / 24; {
	case days > 180:
		score += 15
	case days > 30:
		score += 5
	}
	return min(max(score, 0), 100), risks
}

func Level(score int) string {
	switch {
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

func cacheKey(s Subject) string {
	return fmt.Sprintf("%s|%s|%d", s.ConsentID, s.Status, s.ValidUntil.Unix())
}

func prompt(s Subject, scored Explanation) string {
	var b strings.Builder
	b.WriteString("Explain to a citizen, in two or three plain sentences, what this data sharing request means.\n")
	fmt.Fprintf(&b, "Requester: %s (%s)\n", s.RequesterName, s.RequesterRole)
	fmt.Fprintf(&b, "Purpose: %s\n", s.Purpose)
	fmt.Fprintf(&b, "Attributes: %s\n", strings.Join(s.Attributes, ", "))
	fmt.Fprintf(&b, "Valid until: %s\n", s.ValidUntil.UTC().Format(time.DateOnly))
	fmt.Fprintf(&b, "Risk: %s (%d/100)\n", scored.RiskLevel, scored.RiskScore)
	return b.String()
}

func heuristicSummary(s Subject, scored Explanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) can read %d attribute(s): %s",
		s.RequesterName, strings.ReplaceAll(s.RequesterRole, "_", " "),
		len(s.Attributes), strings.Join(s.Attributes, ", "))
	if s.Purpose != "" {
		fmt.Fprintf(&b, " for %s", strings.ReplaceAll(s.Purpose, "_", " "))
	}
	fmt.Fprintf(&b, " until %s.", s.ValidUntil.UTC().Format(time.DateOnly))
	if len(scored.Attributes) > 0 && scored.Attributes[0].Sensitivity >= 4 {
		fmt.Fprintf(&b, " The most sensitive item is %s.", scored.Attributes[0].Name)
	}
	fmt.Fprintf(&b, " Overall risk: %s (%d/100).", scored.RiskLevel, scored.RiskScore)
	return b.String()
}
