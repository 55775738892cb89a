// Package middleware gates routes on consent and hands the granted attribute
// set to the handler.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmiddleware "govid/internal/auth/middleware"
	authmodels "govid/internal/auth/models"
	"govid/internal/consent/service"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/httputil"
	platformstrings "govid/pkg/platform/strings"
	"govid/pkg/requestcontext"
)

// Authorizer decides which requested attributes the actor may read.
type Authorizer interface {
	Authorize(ctx context.Context, actor authmodels.Principal, targetExternalID string, requested []string) (*service.Decision, error)
}

// Resolver reads the target's external ID and the requested attributes from a
// request. Handlers declare one per route.
type Resolver func(r *http.Request) (target string, requested []string, err error)

type decisionKey struct{}

// DecisionFrom returns the decision attached by RequireConsent.
func DecisionFrom(ctx context.Context) (*service.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(*service.Decision)
	return d, ok
}

// WithDecision attaches d to ctx, as RequireConsent does.
func WithDecision(ctx context.Context, d *service.Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// FieldsResolver takes the target from the chi URL param (or the "target"
// query value when the param is absent) and the requested attributes from the
// comma-separated "fields" query value.
func FieldsResolver(param string) Resolver {
	return func(r *http.Request) (string, []string, error) {
		target := strings.TrimSpace(chi.URLParam(r, param))
		if target == "" {
			target = strings.TrimSpace(r.URL.Query().Get("target"))
		}
		if target == "" {
			return "", nil, dErrors.New(dErrors.CodeBadRequest, "target identity is required")
		}
		fields := platformstrings.SplitList(r.URL.Query()["fields"]...)
		if len(fields) == 0 {
			return "", nil, dErrors.New(dErrors.CodeBadRequest, "at least one field must be requested")
		}
		return target, fields, nil
	}
}

// RequireConsent authorizes the request against the caller's consent grants.
// It must run after RequireAuth; a missing principal answers 500.
func RequireConsent(authz Authorizer, resolve Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := authmiddleware.PrincipalFrom(ctx)
			if !ok {
				logger.ErrorContext(ctx, "consent guard reached without principal",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication middleware missing"))
				return
			}

			target, requested, err := resolve(r)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			decision, err := authz.Authorize(ctx, principal, target, requested)
			if err != nil {
				if !dErrors.HasCode(err, dErrors.CodeInternal) {
					logger.InfoContext(ctx, "data access denied",
						"reason", string(dErrors.CodeOf(err)),
						"actor_id", principal.ID.String(),
						"role", principal.Role.String(),
						"request_id", requestcontext.RequestID(ctx),
					)
				}
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDecision(ctx, decision)))
		})
	}
}
