package eligibility

import (
	"context"
	"strings"
)

// FailureReason is the closed set of reasons an eligibility check can fail.
// Server-side reasons surface as service-unavailable to the caller, all
// others as forbidden.
type FailureReason string

const (
	FailureNone                  FailureReason = ""
	FailureBadNPI                FailureReason = "bad_npi"
	FailureNoApprovedEnrollment  FailureReason = "no_approved_enrollment"
	FailureNotAuthorizedOfficial FailureReason = "user_not_authorized_official"
	FailureAoMedSanctions        FailureReason = "med_sanctions"
	FailureOrgMedSanctions       FailureReason = "org_med_sanctions"
	FailureAPIGateway            FailureReason = "api_gateway_error"
	FailureInvalidEndpoint       FailureReason = "invalid_endpoint_called"
	FailureUnexpected            FailureReason = "unexpected_error"
)

// IsServerError reports whether the reason stems from the gateway rather
// than the caller's data.
func (r FailureReason) IsServerError() bool {
	switch r {
	case FailureAPIGateway, FailureInvalidEndpoint, FailureUnexpected:
		return true
	}
	return false
}

// AoRole is the enrollment record matched for an authorized official.
type AoRole struct {
	RegistryParticipantID string `json:"registry_participant_id"`
	RoleCode              string `json:"role_code"`
}

// Result is the outcome of one eligibility check.
type Result struct {
	Success       bool          `json:"success"`
	AoRole        *AoRole       `json:"ao_role,omitempty"`
	HasOrgWaiver  bool          `json:"has_org_waiver"`
	HasAoWaiver   bool          `json:"has_ao_waiver"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Service checks whether a principal is a registered authorized official for
// an organization.
type Service interface {
	CheckEligibility(ctx context.Context, npi, ssn string) (*Result, error)
}

// NormalizeSSN strips dashes and spaces so the gateway receives bare digits.
func NormalizeSSN(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
