package models

import "time"

// AoOrgLink joins an authorized official to a provider organization. The
// composite index on (user, organization) and the unique invitation
// reference are the source of truth against duplicate registration.
type AoOrgLink struct {
	BaseModel

	UserID                 string  `gorm:"type:uuid;not null;uniqueIndex:idx_ao_org_links_user_org" json:"user_id"`
	ProviderOrganizationID string  `gorm:"type:uuid;not null;uniqueIndex:idx_ao_org_links_user_org" json:"provider_organization_id"`
	InvitationID           *string `gorm:"type:uuid;uniqueIndex" json:"invitation_id,omitempty"`

	User                 *User                 `json:"user,omitempty"`
	ProviderOrganization *ProviderOrganization `json:"provider_organization,omitempty"`
	Invitation           *Invitation           `json:"invitation,omitempty"`
}

// CdOrgLink joins a credential delegate to a provider organization.
// DisabledAt marks revocation; a disabled link keeps its row so the
// invitation reference stays unique.
type CdOrgLink struct {
	BaseModel

	UserID                 string  `gorm:"type:uuid;not null;uniqueIndex:idx_cd_org_links_user_org" json:"user_id"`
	ProviderOrganizationID string  `gorm:"type:uuid;not null;uniqueIndex:idx_cd_org_links_user_org" json:"provider_organization_id"`
	InvitationID           *string `gorm:"type:uuid;uniqueIndex" json:"invitation_id,omitempty"`

	DisabledAt *time.Time `json:"disabled_at,omitempty"`

	User                 *User                 `json:"user,omitempty"`
	ProviderOrganization *ProviderOrganization `json:"provider_organization,omitempty"`
	Invitation           *Invitation           `json:"invitation,omitempty"`
}
