package httptransport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govid/internal/advisory"
	audithandler "govid/internal/audit/handler"
	auditmodels "govid/internal/audit/models"
	auditservice "govid/internal/audit/service"
	"govid/internal/audit/store/entry"
	authservice "govid/internal/auth/service"
	"govid/internal/auth/store/identity"
	consenthandler "govid/internal/consent/handler"
	consentmodels "govid/internal/consent/models"
	consentservice "govid/internal/consent/service"
	"govid/internal/consent/store/grant"
	"govid/internal/platform/metrics"
	ratelimitmiddleware "govid/internal/ratelimit/middleware"
	ratelimitservice "govid/internal/ratelimit/service"
	"govid/internal/ratelimit/store/window"
	recordshandler "govid/internal/records/handler"
	"govid/internal/records/store/attributes"
	"govid/internal/seed"
	httptransport "govid/internal/transport/http"
	"govid/pkg/testutil"
)

// seededAt makes the CIT-1 -> GOV-1 grant valid until 2025-04-10.
var seededAt = time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type harness struct {
	t        *testing.T
	now      time.Time
	handler  http.Handler
	fixtures *seed.Fixtures
	grants   *grant.InMemoryStore
	audit    *entry.InMemoryStore
}

type harnessConfig struct {
	limit     int
	readiness map[string]httptransport.ReadinessCheck
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.limit == 0 {
		cfg.limit = ratelimitservice.DefaultLimit
	}

	h := &harness{t: t, now: seededAt}
	clock := func() time.Time { return h.now }

	identities := identity.NewInMemory()
	h.grants = grant.NewInMemory()
	attrs := attributes.NewInMemory()
	h.audit = entry.NewInMemory()

	fixtures, err := seed.Load(context.Background(), seed.Stores{
		Identities: identities,
		Grants:     h.grants,
		Attributes: attrs,
	}, seededAt, seed.WithSessionTTL(120*24*time.Hour))
	require.NoError(t, err)
	h.fixtures = fixtures

	reg := prometheus.NewRegistry()
	recorder := auditservice.New(h.audit, auditservice.WithClock(clock))
	limiter := ratelimitmiddleware.New(
		ratelimitservice.New(window.NewInMemory(), ratelimitservice.WithLimit(cfg.limit, 15*time.Minute)),
		testLogger(),
	)

	h.handler = httptransport.NewRouter(httptransport.Deps{
		Logger:        testLogger(),
		Gatherer:      reg,
		HTTPMetrics:   metrics.New(reg),
		Authenticator: authservice.New(identities),
		Limiter:       limiter,
		Authorizer:    consentservice.NewAuthorizer(h.grants, identities),
		Consent: consenthandler.New(
			consentservice.NewRequests(h.grants, identities),
			advisory.New(nil),
			recorder,
			testLogger(),
		),
		Records:   recordshandler.New(attrs, recorder, testLogger()),
		Audit:     audithandler.New(recorder, identities, testLogger()),
		Readiness: cfg.readiness,
		Clock:     clock,
	})
	return h
}

func (h *harness) get(path, actor string) *http.Response {
	token := ""
	if actor != "" {
		token = h.fixtures.Token(actor)
	}
	return testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, path, token)).Result()
}

func (h *harness) auditEntries() []*auditmodels.Entry {
	h.t.Helper()
	entries, err := h.audit.List(context.Background(), auditmodels.Filter{Limit: auditmodels.MaxListLimit})
	require.NoError(h.t, err)
	return entries
}

func TestConsentGrantLifecycle(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	g := h.fixtures.Grant("CIT-1", "GOV-1")
	require.Equal(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), g.ValidUntil)

	testutil.Given(t, "CIT-1 granted GOV-1 blood_group and allergies until 2025-04-10", func(t *testing.T) {
		testutil.When(t, "GOV-1 asks for blood_group and medical_history on 2025-03-01", func(t *testing.T) {
			h.now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
			rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
				"/api/v1/identities/CIT-1/attributes?fields=blood_group,medical_history", h.fixtures.Token("GOV-1")))

			testutil.Then(t, "only blood_group is released", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
				resp := testutil.UnmarshalResponse[recordshandler.AttributesResponse](t, rr)
				assert.Equal(t, []string{"blood_group"}, resp.Granted)
				require.Contains(t, resp.Attributes, "blood_group")
				assert.Equal(t, "O+", *resp.Attributes["blood_group"])
				assert.NotContains(t, resp.Attributes, "medical_history")
				assert.False(t, resp.SelfAccess)
			})

			testutil.Then(t, "one DATA_ACCESS entry lists the released field", func(t *testing.T) {
				entries := h.auditEntries()
				require.Len(t, entries, 1)
				assert.Equal(t, auditmodels.ActionDataAccess, entries[0].Action)
				assert.Equal(t, []string{"blood_group"}, entries[0].AccessedAttributes)
				assert.Equal(t, g.ID.String(), entries[0].Metadata["consent_id"])
				assert.True(t, entries[0].Verify())
			})
		})

		testutil.When(t, "GOV-1 asks for blood_group on 2025-04-11", func(t *testing.T) {
			h.now = time.Date(2025, 4, 11, 9, 0, 0, 0, time.UTC)
			rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
				"/api/v1/identities/CIT-1/attributes?fields=blood_group", h.fixtures.Token("GOV-1")))

			testutil.Then(t, "access fails as expired and the grant is stored as expired", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "consent_expired")
				stored, err := h.grants.FindByID(context.Background(), g.ID)
				require.NoError(t, err)
				assert.Equal(t, consentmodels.StatusExpired, stored.Status)
			})

			testutil.Then(t, "a repeated request finds no active grant", func(t *testing.T) {
				again := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
					"/api/v1/identities/CIT-1/attributes?fields=blood_group", h.fixtures.Token("GOV-1")))
				testutil.AssertStatusAndError(t, again, http.StatusForbidden, "no_consent")
			})

			testutil.Then(t, "denied requests are not audited", func(t *testing.T) {
				assert.Len(t, h.auditEntries(), 1)
			})
		})
	})
}

func TestDataAccessDecisions(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.now = seededAt.Add(time.Hour)

	t.Run("citizen reads own attributes without a grant", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
			"/api/v1/identities/CIT-1/attributes?fields=full_name,income,full_name", h.fixtures.Token("CIT-1")))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := testutil.UnmarshalResponse[recordshandler.AttributesResponse](t, rr)
		assert.True(t, resp.SelfAccess)
		assert.Equal(t, []string{"full_name", "income"}, resp.Granted)
		assert.Equal(t, "Amina Okafor", *resp.Attributes["full_name"])
		assert.Nil(t, resp.Attributes["income"])
	})

	t.Run("requester without a grant", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
			"/api/v1/identities/CIT-1/attributes?fields=full_name", h.fixtures.Token("REG-1")))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "no_consent")
	})

	t.Run("unknown target looks like a missing grant", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
			"/api/v1/identities/CIT-404/attributes?fields=full_name", h.fixtures.Token("GOV-1")))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "no_consent")
	})

	t.Run("no overlap with the granted scope", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
			"/api/v1/identities/CIT-1/attributes?fields=income,tax_records", h.fixtures.Token("GOV-1")))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "no_matching_scope")
	})

	t.Run("lapsed grant still stored as active", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
			"/api/v1/identities/CIT-1/attributes?fields=email", h.fixtures.Token("SP-1")))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "consent_expired")
	})

	t.Run("missing fields", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet,
			"/api/v1/identities/CIT-1/attributes", h.fixtures.Token("GOV-1")))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	// Only the self access above succeeded.
	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "true", entries[0].Metadata["self_access"])
	assert.False(t, entries[0].CreatedAt.Before(h.now))
}

func TestAuthenticationAndRoles(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.now = seededAt.Add(time.Hour)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"missing token", "/api/v1/attributes", "", http.StatusUnauthorized, "unauthorized"},
		{"unknown token", "/api/v1/attributes", "forged", http.StatusUnauthorized, "unauthorized"},
		{"suspended identity", "/api/v1/attributes", h.fixtures.Token("CIT-2"), http.StatusUnauthorized, "identity_suspended"},
		{"citizen on audit view", "/api/v1/audit", h.fixtures.Token("CIT-1"), http.StatusForbidden, "forbidden"},
		{"government on audit view", "/api/v1/audit", h.fixtures.Token("GOV-1"), http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, tt.path, tt.token))
			testutil.AssertStatusAndError(t, rr, tt.wantStatus, tt.wantCode)
		})
	}

	t.Run("active identity", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, "/api/v1/attributes", h.fixtures.Token("SP-1")))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("expired session", func(t *testing.T) {
		h.now = seededAt.Add(121 * 24 * time.Hour)
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, "/api/v1/attributes", h.fixtures.Token("SP-1")))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	assert.Empty(t, h.auditEntries())
}

func TestRateLimitWindow(t *testing.T) {
	const limit = 3
	h := newHarness(t, harnessConfig{limit: limit})
	h.now = seededAt.Add(time.Hour)

	for i := range limit {
		res := h.get("/api/v1/attributes", "CIT-1")
		require.Equal(t, http.StatusOK, res.StatusCode, "request %d", i+1)
		assert.Equal(t, strconv.Itoa(limit), res.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(limit-i-1), res.Header.Get("X-RateLimit-Remaining"))
	}

	rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, "/api/v1/attributes", h.fixtures.Token("CIT-1")))
	testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limited")

	// The identity window does not consume the address window.
	rr = testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, "/api/v1/attributes", ""))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	h.now = h.now.Add(15*time.Minute + time.Second)
	res := h.get("/api/v1/attributes", "CIT-1")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, strconv.Itoa(limit-1), res.Header.Get("X-RateLimit-Remaining"))
}

func TestRateLimitSharedAddress(t *testing.T) {
	const limit = 3
	h := newHarness(t, harnessConfig{limit: limit})
	h.now = seededAt.Add(time.Hour)

	fromNAT := func(token string) *httptest.ResponseRecorder {
		req := testutil.NewBearerRequest(http.MethodGet, "/api/v1/attributes", token)
		req.RemoteAddr = "198.51.100.7:40000"
		return testutil.DoRequest(h.handler, req)
	}

	for i := range limit {
		require.Equal(t, http.StatusOK, fromNAT(h.fixtures.Token("GOV-1")).Code, "GOV-1 request %d", i+1)
	}
	for i := range limit {
		rr := fromNAT(h.fixtures.Token("SP-1"))
		require.Equal(t, http.StatusOK, rr.Code, "SP-1 request %d", i+1)
		assert.Equal(t, strconv.Itoa(limit-i-1), rr.Header().Get("X-RateLimit-Remaining"))
	}
	testutil.AssertStatusAndError(t, fromNAT(h.fixtures.Token("SP-1")), http.StatusTooManyRequests, "rate_limited")

	// Failed sessions count against the address.
	for range limit {
		testutil.AssertStatusAndError(t, fromNAT("not-a-session"), http.StatusUnauthorized, "unauthorized")
	}
	testutil.AssertStatusAndError(t, fromNAT("not-a-session"), http.StatusTooManyRequests, "rate_limited")
	testutil.AssertStatusAndError(t, fromNAT(""), http.StatusTooManyRequests, "rate_limited")
	assert.Equal(t, http.StatusOK, fromNAT(h.fixtures.Token("CIT-1")).Code, "an exhausted address does not block live sessions")
}

func TestAuditViewRecordsItself(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.now = seededAt.Add(time.Hour)

	res := h.get("/api/v1/identities/CIT-1/attributes?fields=allergies", "GOV-1")
	require.Equal(t, http.StatusOK, res.StatusCode)

	rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, "/api/v1/audit?target=CIT-1", h.fixtures.Token("REG-1")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := testutil.UnmarshalResponse[audithandler.ListResponse](t, rr)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, auditmodels.ActionDataAccess, resp.Entries[0].Action)

	entries := h.auditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, auditmodels.ActionAuditView, entries[0].Action)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestOperationalEndpoints(t *testing.T) {
	h := newHarness(t, harnessConfig{readiness: map[string]httptransport.ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})

	t.Run("healthz", func(t *testing.T) {
		res := h.get("/healthz", "")
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.NotEmpty(t, res.Header.Get("X-RateLimit-Limit"))
	})

	t.Run("readyz reports the failing dependency", func(t *testing.T) {
		rr := testutil.DoRequest(h.handler, testutil.NewBearerRequest(http.MethodGet, "/readyz", ""))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), `"redis":"fail"`)
		assert.Contains(t, rr.Body.String(), `"postgres":"ok"`)
	})

	t.Run("metrics exposes request counters", func(t *testing.T) {
		res := h.get("/metrics", "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "govid_http_requests_total")
	})
}
