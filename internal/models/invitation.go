package models

import (
	"strings"
	"time"
)

// InvitationType distinguishes the two registration flows.
type InvitationType string

const (
	AuthorizedOfficial InvitationType = "authorized_official"
	CredentialDelegate InvitationType = "credential_delegate"
)

// Valid reports whether the type is one of the two known flows.
func (t InvitationType) Valid() bool {
	return t == AuthorizedOfficial || t == CredentialDelegate
}

// InvitationStatus is the stored lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationRenewed   InvitationStatus = "renewed"
)

// UnacceptableReason explains why an invitation can no longer be used.
type UnacceptableReason string

const (
	ReasonNone       UnacceptableReason = ""
	ReasonInvalid    UnacceptableReason = "invalid"
	ReasonAoRenewed  UnacceptableReason = "ao_renewed"
	ReasonAoAccepted UnacceptableReason = "ao_accepted"
	ReasonCdAccepted UnacceptableReason = "cd_accepted"
	ReasonAoExpired  UnacceptableReason = "ao_expired"
	ReasonCdExpired  UnacceptableReason = "cd_expired"
)

// InvitationLifetime is how long an invitation stays usable after creation.
const InvitationLifetime = 48 * time.Hour

// Invitation is the persisted record of one invitation to register as an
// authorized official or credential delegate for a provider organization.
// Invited-identity fields are scrubbed when the invitation is accepted.
type Invitation struct {
	BaseModel

	InvitationType InvitationType   `gorm:"not null;index" json:"invitation_type"`
	Status         InvitationStatus `gorm:"not null;default:pending;index" json:"status"`

	ProviderOrganizationID string                `gorm:"type:uuid;not null;index" json:"provider_organization_id"`
	ProviderOrganization   *ProviderOrganization `json:"provider_organization,omitempty"`

	// InvitedByID is required for credential delegate invitations and empty
	// for authorized official invitations created by the system.
	InvitedByID *string `gorm:"type:uuid" json:"invited_by_id,omitempty"`
	InvitedBy   *User   `gorm:"foreignKey:InvitedByID" json:"invited_by,omitempty"`

	InvitedGivenName  string `json:"invited_given_name"`
	InvitedFamilyName string `json:"invited_family_name"`
	InvitedEmail      string `json:"invited_email"`
	InvitedPhone      string `json:"invited_phone"`
	VerificationCode  string `gorm:"size:6" json:"-"`
}

// IsAuthorizedOfficial reports whether this is an AO invitation.
func (i *Invitation) IsAuthorizedOfficial() bool {
	return i.InvitationType == AuthorizedOfficial
}

// IsCredentialDelegate reports whether this is a CD invitation.
func (i *Invitation) IsCredentialDelegate() bool {
	return i.InvitationType == CredentialDelegate
}

// IsExpired reports whether the invitation has outlived its 48 hour window.
// The boundary is inclusive: an invitation aged exactly 48h is expired.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.Sub(i.CreatedAt) >= InvitationLifetime
}

// ExpiresIn returns the remaining validity as whole hours and minutes for
// display. Both values are zero once the invitation has expired.
func (i *Invitation) ExpiresIn(now time.Time) (hours, minutes int) {
	remaining := InvitationLifetime - now.Sub(i.CreatedAt)
	if remaining <= 0 {
		return 0, 0
	}
	hours = int(remaining / time.Hour)
	minutes = int(remaining%time.Hour) / int(time.Minute)
	return hours, minutes
}

// UnacceptableReason classifies why the invitation cannot proceed, or
// ReasonNone when it is still usable. Evaluation order matters: an
// invitation can be simultaneously cancelled and old, and only the
// highest-precedence reason is reported.
func (i *Invitation) UnacceptableReason(now time.Time) UnacceptableReason {
	expired := i.Status == InvitationExpired || i.IsExpired(now)

	switch {
	case i.Status == InvitationCancelled:
		return ReasonInvalid
	case i.Status == InvitationRenewed && i.IsAuthorizedOfficial():
		return ReasonAoRenewed
	case i.Status == InvitationAccepted && i.IsAuthorizedOfficial():
		return ReasonAoAccepted
	case i.Status == InvitationAccepted && i.IsCredentialDelegate():
		return ReasonCdAccepted
	case expired && i.IsAuthorizedOfficial():
		return ReasonAoExpired
	case expired && i.IsCredentialDelegate():
		return ReasonCdExpired
	default:
		return ReasonNone
	}
}

// Renewable reports whether Renew may create a replacement invitation:
// only expired AO invitations that were never accepted or cancelled.
func (i *Invitation) Renewable(now time.Time) bool {
	if !i.IsAuthorizedOfficial() {
		return false
	}
	if i.Status != InvitationPending && i.Status != InvitationExpired {
		return false
	}
	return i.IsExpired(now)
}

// Accept marks the invitation accepted and scrubs the invited identity
// fields. Accepting an already-accepted invitation is a no-op so a replayed
// request can never revert the scrub.
func (i *Invitation) Accept() {
	if i.Status == InvitationAccepted {
		return
	}
	i.Status = InvitationAccepted
	i.InvitedGivenName = ""
	i.InvitedFamilyName = ""
	i.InvitedEmail = ""
	i.InvitedPhone = ""
	i.VerificationCode = ""
}

// InvitedFullName combines the invited given and family names for display.
func (i *Invitation) InvitedFullName() string {
	return strings.TrimSpace(i.InvitedGivenName + " " + i.InvitedFamilyName)
}

// InvitedByFullName names the user who issued this invitation, if any.
func (i *Invitation) InvitedByFullName() string {
	if i.InvitedBy == nil {
		return ""
	}
	return i.InvitedBy.FullName()
}

// NormalizePhone strips every non-digit character from a raw phone number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
