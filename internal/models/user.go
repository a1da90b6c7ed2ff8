package models

// User is an account resolved from the external identity provider. There is
// no local password; the (provider, subject) pair is the identity.
type User struct {
	BaseModel

	Provider string `gorm:"not null;default:openid_connect;uniqueIndex:idx_users_provider_subject" json:"provider"`
	Subject  string `gorm:"not null;uniqueIndex:idx_users_provider_subject" json:"subject"`

	Email      string `gorm:"not null;index" json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`

	// RegistryParticipantID correlates the user to a government
	// provider-enrollment record. Populated during AO registration.
	RegistryParticipantID string `gorm:"index" json:"registry_participant_id,omitempty"`

	VerificationStatus *VerificationStatus `json:"verification_status,omitempty"`

	AoOrgLinks []AoOrgLink `gorm:"foreignKey:UserID" json:"-"`
	CdOrgLinks []CdOrgLink `gorm:"foreignKey:UserID" json:"-"`
}

// FullName combines given and family name for display and logging.
func (u *User) FullName() string {
	switch {
	case u.GivenName == "":
		return u.FamilyName
	case u.FamilyName == "":
		return u.GivenName
	default:
		return u.GivenName + " " + u.FamilyName
	}
}
