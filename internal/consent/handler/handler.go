// Package handler serves the consent request, explanation and attribute
// vocabulary endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"govid/internal/advisory"
	auditmodels "govid/internal/audit/models"
	authmiddleware "govid/internal/auth/middleware"
	authmodels "govid/internal/auth/models"
	"govid/internal/consent/models"
	"govid/internal/consent/service"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/httputil"
	"govid/pkg/requestcontext"
)

// Requests creates and reads grants.
type Requests interface {
	RequestConsent(ctx context.Context, requester authmodels.Principal, in service.RequestInput) (*models.Grant, error)
	OwnedGrant(ctx context.Context, owner authmodels.Principal, id domain.ConsentID) (*models.Grant, error)
	Requester(ctx context.Context, grant *models.Grant) (*authmodels.Identity, error)
}

// Explainer produces the advisory explanation of a grant.
type Explainer interface {
	Explain(ctx context.Context, s advisory.Subject) advisory.Explanation
}

// AuditRecorder records successful actions. A returned error means the
// configured durability mode requires the response to be withheld.
type AuditRecorder interface {
	Record(ctx context.Context, in auditmodels.Input) error
}

type Handler struct {
	logger    *slog.Logger
	requests  Requests
	explainer Explainer
	audit     AuditRecorder
}

func New(requests Requests, explainer Explainer, audit AuditRecorder, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		requests:  requests,
		explainer: explainer,
		audit:     audit,
	}
}

// Register mounts the routes on r, which must already authenticate.
func (h *Handler) Register(r chi.Router) {
	r.Get("/attributes", h.handleListAttributes)
	r.With(authmiddleware.RequireRoles(h.logger, authmodels.RoleServiceProvider, authmodels.RoleGovernment)).
		Post("/consents/requests", h.handleRequestConsent)
	r.With(authmiddleware.RequireRoles(h.logger, authmodels.RoleCitizen)).
		Get("/consents/{consentID}/explanation", h.handleExplain)
}

func (h *Handler) handleListAttributes(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, models.AttributesResponse{Attributes: models.Vocabulary()})
}

func (h *Handler) handleRequestConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var body models.ConsentRequestBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.logger.WarnContext(ctx, "invalid consent request body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	sanitize(&body)
	purpose, err := body.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	grant, err := h.requests.RequestConsent(ctx, principal, service.RequestInput{
		OwnerExternalID: body.CitizenID,
		Attributes:      body.Attributes,
		Purpose:         purpose,
		ValidUntil:      body.ValidUntil,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "failed to create consent request",
				"request_id", requestID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	owner := grant.OwnerID
	if err := h.audit.Record(ctx, auditmodels.Input{
		ActorID:            principal.ID,
		ActorRole:          principal.Role.String(),
		TargetID:           &owner,
		Action:             auditmodels.ActionConsentRequest,
		AccessedAttributes: grant.AllowedAttributes,
		Purpose:            grant.Purpose,
		Metadata:           map[string]string{"consent_id": grant.ID.String()},
	}); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit failure"))
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, models.ToConsentResponse(grant, body.CitizenID))
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	id, err := domain.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}
	grant, err := h.requests.OwnedGrant(ctx, principal, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	requester, err := h.requests.Requester(ctx, grant)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load consent requester",
			"consent_id", grant.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	explanation := h.explainer.Explain(ctx, advisory.Subject{
		ConsentID:     grant.ID.String(),
		Status:        string(grant.EffectiveStatus(requestcontext.Now(ctx))),
		RequesterName: requester.DisplayName,
		RequesterRole: requester.Role.String(),
		Attributes:    grant.AllowedAttributes,
		Purpose:       grant.Purpose.String(),
		CreatedAt:     grant.CreatedAt,
		ValidUntil:    grant.ValidUntil,
	})

	if err := h.audit.Record(ctx, auditmodels.Input{
		ActorID:   principal.ID,
		ActorRole: principal.Role.String(),
		TargetID:  &grant.OwnerID,
		Action:    auditmodels.ActionConsentExplain,
		Metadata: map[string]string{
			"consent_id": grant.ID.String(),
			"source":     explanation.Source,
		},
	}); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit failure"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, explanation)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (authmodels.Principal, bool) {
	p, ok := authmiddleware.PrincipalFrom(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "principal missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
	}
	return p, ok
}
