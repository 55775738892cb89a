// Package middleware authenticates requests and gates routes by role.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"govid/internal/auth/models"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/httputil"
	"govid/pkg/requestcontext"
)

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Principal, error)
}

type principalKey struct{}

// PrincipalFrom returns the principal attached by RequireAuth.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx, as RequireAuth does. Tests use it to skip
// the authenticator.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return requestcontext.WithIdentityID(ctx, p.ID)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// Missing or malformed headers return "".
func BearerToken(r *http.Request) string {
	after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(after)
}

type authFailureKey struct{}

// Authenticate resolves the bearer token and attaches the principal when the
// session is live. Failures are kept in the context for RequireAuth so that
// stages in between, such as the rate limiter, see an anonymous request.
func Authenticate(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, err := authn.Authenticate(ctx, BearerToken(r))
			if err != nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, authFailureKey{}, err)))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireAuth rejects requests without a live session and attaches the
// principal otherwise. After Authenticate it reuses that outcome instead of
// calling the authenticator again.
func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := PrincipalFrom(ctx); ok {
				next.ServeHTTP(w, r)
				return
			}
			err, _ := ctx.Value(authFailureKey{}).(error)
			if err == nil {
				var principal models.Principal
				principal, err = authn.Authenticate(ctx, BearerToken(r))
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
					return
				}
			}
			if !dErrors.HasCode(err, dErrors.CodeInternal) {
				logger.WarnContext(ctx, "unauthorized access",
					"reason", dErrors.MessageOf(err),
					"client_ip", requestcontext.ClientIP(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
			}
			httputil.WriteError(w, err)
		})
	}
}

// RequireRoles admits principals whose role is one of roles. It must run after
// RequireAuth; a missing principal is a wiring error and answers 500.
func RequireRoles(logger *slog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := PrincipalFrom(ctx)
			if !ok {
				logger.ErrorContext(ctx, "role guard reached without principal",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication middleware missing"))
				return
			}
			if !principal.HasRole(roles...) {
				logger.WarnContext(ctx, "forbidden role",
					"role", principal.Role.String(),
					"identity_id", principal.ID.String(),
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "role not permitted for this resource"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
