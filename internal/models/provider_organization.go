package models

import "gorm.io/datatypes"

// ProviderOrganization is the provider organization being registered. NPI is
// the registry number presented to the eligibility gateway.
type ProviderOrganization struct {
	BaseModel

	Name string `gorm:"not null" json:"name"`
	NPI  string `gorm:"not null;index" json:"npi"`

	VerificationStatus *VerificationStatus `json:"verification_status,omitempty"`

	// VerificationData carries waiver metadata captured during eligibility
	// checks (organization or official waivers granted by the registry).
	VerificationData datatypes.JSON `json:"verification_data,omitempty"`

	AoOrgLinks []AoOrgLink `gorm:"foreignKey:ProviderOrganizationID" json:"-"`
	CdOrgLinks []CdOrgLink `gorm:"foreignKey:ProviderOrganizationID" json:"-"`
}
