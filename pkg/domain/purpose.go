package domain

import dErrors "govid/pkg/domain-errors"

// AccessPurpose records why an organization accessed personal data.
// Invariant: the value must be one of the supported purposes.
//
// Usage: construct via ParseAccessPurpose at trust boundaries; direct casting
// bypasses validation.
type AccessPurpose string

const (
	PurposeServiceDelivery  AccessPurpose = "service_delivery"
	PurposeEligibilityCheck AccessPurpose = "eligibility_check"
	PurposeLawEnforcement   AccessPurpose = "law_enforcement"
	PurposeRegulatoryReview AccessPurpose = "regulatory_review"
	PurposeSelfService      AccessPurpose = "self_service"
)

var validAccessPurposes = map[AccessPurpose]bool{
	PurposeServiceDelivery:  true,
	PurposeEligibilityCheck: true,
	PurposeLawEnforcement:   true,
	PurposeRegulatoryReview: true,
	PurposeSelfService:      true,
}

// ParseAccessPurpose constructs an AccessPurpose from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseAccessPurpose(s string) (AccessPurpose, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "purpose cannot be empty")
	}
	p := AccessPurpose(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid purpose")
	}
	return p, nil
}

func (p AccessPurpose) IsValid() bool {
	return validAccessPurposes[p]
}

func (p AccessPurpose) String() string {
	return string(p)
}
