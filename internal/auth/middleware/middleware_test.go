package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"govid/internal/auth/models"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/requestcontext"
	"govid/pkg/testutil"
)

type stubAuthenticator struct {
	principals map[string]models.Principal
	err        error
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (models.Principal, error) {
	if s.err != nil {
		return models.Principal{}, s.err
	}
	if token == "" {
		return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	p, ok := s.principals[token]
	if !ok {
		return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired session")
	}
	return p, nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || requestcontext.IdentityID(r.Context()) != p.ID {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, p.ExternalID)
	})
}

func TestRequireAuth(t *testing.T) {
	gov := models.Principal{ID: domain.NewIdentityID(), ExternalID: "GOV-1", Role: models.RoleGovernment}
	h := RequireAuth(stubAuthenticator{principals: map[string]models.Principal{"tok-gov": gov}}, discard)(echoPrincipal())

	t.Run("missing header", func(t *testing.T) {
		rr := testutil.DoRequest(h, testutil.NewBearerRequest(http.MethodGet, "/", ""))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("malformed header", func(t *testing.T) {
		req := testutil.NewBearerRequest(http.MethodGet, "/", "")
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		rr := testutil.DoRequest(h, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("unknown session", func(t *testing.T) {
		rr := testutil.DoRequest(h, testutil.NewBearerRequest(http.MethodGet, "/", "tok-other"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("valid session attaches principal and identity", func(t *testing.T) {
		rr := testutil.DoRequest(h, testutil.NewBearerRequest(http.MethodGet, "/", "tok-gov"))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "GOV-1", rr.Body.String())
	})

	t.Run("suspended identity", func(t *testing.T) {
		suspended := RequireAuth(stubAuthenticator{err: dErrors.New(dErrors.CodeIdentitySuspended, "identity is suspended")}, discard)(echoPrincipal())
		rr := testutil.DoRequest(suspended, testutil.NewBearerRequest(http.MethodGet, "/", "tok"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "identity_suspended")
	})
}

type countingAuthenticator struct {
	stubAuthenticator
	calls int
}

func (c *countingAuthenticator) Authenticate(ctx context.Context, token string) (models.Principal, error) {
	c.calls++
	return c.stubAuthenticator.Authenticate(ctx, token)
}

func TestAuthenticateThenRequireAuth(t *testing.T) {
	gov := models.Principal{ID: domain.NewIdentityID(), ExternalID: "GOV-1", Role: models.RoleGovernment}
	authn := &countingAuthenticator{stubAuthenticator: stubAuthenticator{principals: map[string]models.Principal{"tok-gov": gov}}}

	var seenBetween domain.IdentityID
	between := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenBetween = requestcontext.IdentityID(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	h := Authenticate(authn)(between(RequireAuth(authn, discard)(echoPrincipal())))

	t.Run("live session is visible to later stages", func(t *testing.T) {
		authn.calls = 0
		rr := testutil.DoRequest(h, testutil.NewBearerRequest(http.MethodGet, "/", "tok-gov"))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, gov.ID, seenBetween)
		assert.Equal(t, 1, authn.calls, "outcome is reused")
	})

	t.Run("failed session stays anonymous until rejected", func(t *testing.T) {
		authn.calls = 0
		rr := testutil.DoRequest(h, testutil.NewBearerRequest(http.MethodGet, "/", "tok-other"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		assert.True(t, seenBetween.IsNil())
		assert.Equal(t, 1, authn.calls)
	})
}

func TestRequireRoles(t *testing.T) {
	guard := RequireRoles(discard, models.RoleRegulatoryAuthority)(echoPrincipal())

	t.Run("allowed role", func(t *testing.T) {
		req := testutil.NewBearerRequest(http.MethodGet, "/", "")
		p := models.Principal{ID: domain.NewIdentityID(), ExternalID: "REG-1", Role: models.RoleRegulatoryAuthority}
		rr := testutil.DoRequest(guard, req.WithContext(WithPrincipal(req.Context(), p)))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("other role is forbidden", func(t *testing.T) {
		req := testutil.NewBearerRequest(http.MethodGet, "/", "")
		p := models.Principal{ID: domain.NewIdentityID(), ExternalID: "CIT-1", Role: models.RoleCitizen}
		rr := testutil.DoRequest(guard, req.WithContext(WithPrincipal(req.Context(), p)))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	t.Run("missing principal is a wiring error", func(t *testing.T) {
		rr := testutil.DoRequest(guard, testutil.NewBearerRequest(http.MethodGet, "/", ""))
		testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
	})
}
