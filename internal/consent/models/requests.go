package models

import (
	"time"

	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
)

// ConsentRequestBody is the payload an organization posts to ask a citizen
// for access.
type ConsentRequestBody struct {
	CitizenID  string    `json:"citizen_id"`
	Attributes []string  `json:"attributes"`
	Purpose    string    `json:"purpose"`
	ValidUntil time.Time `json:"valid_until"`
}

// Validate checks shape only; vocabulary and time checks happen when the
// grant is built.
func (b *ConsentRequestBody) Validate() (domain.AccessPurpose, error) {
	if b.CitizenID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "citizen_id is required")
	}
	if len(b.Attributes) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "attributes are required")
	}
	if b.ValidUntil.IsZero() {
		return "", dErrors.New(dErrors.CodeValidation, "valid_until is required")
	}
	purpose, err := domain.ParseAccessPurpose(b.Purpose)
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	if purpose == domain.PurposeSelfService {
		return "", dErrors.New(dErrors.CodeValidation, "self_service is not a valid purpose for a consent request")
	}
	return purpose, nil
}

type ConsentResponse struct {
	ID         string    `json:"id"`
	CitizenID  string    `json:"citizen_id"`
	Status     Status    `json:"status"`
	Attributes []string  `json:"attributes"`
	Purpose    string    `json:"purpose,omitempty"`
	ValidUntil time.Time `json:"valid_until"`
	CreatedAt  time.Time `json:"created_at"`
}

func ToConsentResponse(g *Grant, citizenExternalID string) ConsentResponse {
	return ConsentResponse{
		ID:         g.ID.String(),
		CitizenID:  citizenExternalID,
		Status:     g.Status,
		Attributes: g.AllowedAttributes,
		Purpose:    g.Purpose.String(),
		ValidUntil: g.ValidUntil,
		CreatedAt:  g.CreatedAt,
	}
}

type AttributesResponse struct {
	Attributes []Attribute `json:"attributes"`
}
