// Package handler serves the regulatory audit view.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"govid/internal/audit/models"
	authmiddleware "govid/internal/auth/middleware"
	authmodels "govid/internal/auth/models"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/httputil"
	"govid/pkg/platform/sentinel"
	"govid/pkg/requestcontext"
)

// Recorder lists entries and records the view itself.
type Recorder interface {
	List(ctx context.Context, filter models.Filter) ([]*models.Entry, error)
	Record(ctx context.Context, in models.Input) error
}

// IdentityLookup resolves the external IDs used in query filters.
type IdentityLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*authmodels.Identity, error)
}

type ListResponse struct {
	Entries []*models.Entry `json:"entries"`
	Count   int             `json:"count"`
}

type Handler struct {
	logger     *slog.Logger
	recorder   Recorder
	identities IdentityLookup
}

func New(recorder Recorder, identities IdentityLookup, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, recorder: recorder, identities: identities}
}

// Register mounts GET /audit for regulatory authorities.
func (h *Handler) Register(r chi.Router) {
	r.With(authmiddleware.RequireRoles(h.logger, authmodels.RoleRegulatoryAuthority)).
		Get("/audit", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := authmiddleware.PrincipalFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	filter, err := h.parseFilter(ctx, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.recorder.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit entries",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.Entry{}
	}

	meta := map[string]string{"result_count": strconv.Itoa(len(entries))}
	for _, key := range []string{"target", "actor", "action", "limit"} {
		if v := r.URL.Query().Get(key); v != "" {
			meta["filter_"+key] = v
		}
	}
	if err := h.recorder.Record(ctx, models.Input{
		ActorID:   principal.ID,
		ActorRole: principal.Role.String(),
		TargetID:  filter.TargetID,
		Action:    models.ActionAuditView,
		Purpose:   domain.PurposeRegulatoryReview,
		Metadata:  meta,
	}); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit failure"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ListResponse{Entries: entries, Count: len(entries)})
}

func (h *Handler) parseFilter(ctx context.Context, r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	var filter models.Filter

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer")
		}
		filter.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		action, err := models.ParseAction(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "unknown action filter")
		}
		filter.Action = action
	}

	var err error
	if filter.TargetID, err = h.resolve(ctx, q.Get("target")); err != nil {
		return filter, err
	}
	if filter.ActorID, err = h.resolve(ctx, q.Get("actor")); err != nil {
		return filter, err
	}
	return filter.Normalize(), nil
}

func (h *Handler) resolve(ctx context.Context, externalID string) (*domain.IdentityID, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	identity, err := h.identities.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found: "+externalID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve identity")
	}
	id := identity.ID
	return &id, nil
}
