// Package handler serves consent-gated reads of a citizen's attributes.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	auditmodels "govid/internal/audit/models"
	authmiddleware "govid/internal/auth/middleware"
	consentmiddleware "govid/internal/consent/middleware"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/httputil"
	"govid/pkg/requestcontext"
)

// AttributeStore reads attribute values for one identity.
type AttributeStore interface {
	Values(ctx context.Context, id domain.IdentityID, names []string) (map[string]string, error)
}

// AuditRecorder records successful reads. A returned error means the response
// must be withheld.
type AuditRecorder interface {
	Record(ctx context.Context, in auditmodels.Input) error
}

// AttributesResponse carries exactly the granted attributes. Granted names
// without a stored value are null.
type AttributesResponse struct {
	IdentityID string             `json:"identity_id"`
	Granted    []string           `json:"granted"`
	Attributes map[string]*string `json:"attributes"`
	SelfAccess bool               `json:"self_access"`
}

type Handler struct {
	logger *slog.Logger
	store  AttributeStore
	audit  AuditRecorder
}

func New(store AttributeStore, audit AuditRecorder, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, store: store, audit: audit}
}

// Register mounts the data access route behind consentGuard, which must attach
// a consent decision.
func (h *Handler) Register(r chi.Router, consentGuard func(http.Handler) http.Handler) {
	r.With(consentGuard).Get("/identities/{externalID}/attributes", h.handleRead)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	principal, ok := authmiddleware.PrincipalFrom(ctx)
	decision, dok := consentmiddleware.DecisionFrom(ctx)
	if !ok || !dok {
		h.logger.ErrorContext(ctx, "data access handler reached without principal or decision",
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authorization context error"))
		return
	}

	values, err := h.store.Values(ctx, decision.TargetID, decision.Granted)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read attributes",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read attributes"))
		return
	}

	resp := AttributesResponse{
		IdentityID: decision.TargetExternalID,
		Granted:    decision.Granted,
		Attributes: make(map[string]*string, len(decision.Granted)),
		SelfAccess: decision.SelfAccess,
	}
	for _, name := range decision.Granted {
		if v, ok := values[name]; ok {
			resp.Attributes[name] = &v
		} else {
			resp.Attributes[name] = nil
		}
	}

	meta := map[string]string{"self_access": "false"}
	if decision.SelfAccess {
		meta["self_access"] = "true"
	}
	if decision.ConsentID != nil {
		meta["consent_id"] = decision.ConsentID.String()
	}
	target := decision.TargetID
	if err := h.audit.Record(ctx, auditmodels.Input{
		ActorID:            principal.ID,
		ActorRole:          principal.Role.String(),
		TargetID:           &target,
		Action:             auditmodels.ActionDataAccess,
		AccessedAttributes: decision.Granted,
		Purpose:            decision.Purpose,
		Metadata:           meta,
	}); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit failure"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
