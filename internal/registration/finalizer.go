package registration

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/chartwellhealth/provider-portal/internal/database"
	"github.com/chartwellhealth/provider-portal/internal/models"
)

// Finalization failures.
var (
	// ErrDuplicateLink signals that a membership link already exists for the
	// (user, organization) pair or for this invitation. The database
	// uniqueness constraints are the source of truth; two concurrent
	// register calls produce exactly one link.
	ErrDuplicateLink = errors.New("registration: membership link already exists")
	// ErrInvalidInvitationType guards the unreachable case of an invitation
	// that is neither AO nor CD.
	ErrInvalidInvitationType = errors.New("registration: invitation type is neither authorized official nor credential delegate")
)

// finalize creates the membership link, accepts the invitation and, for
// authorized officials, approves both the user and the organization. It must
// run inside a transaction so the three writes land together or not at all.
func finalize(tx *gorm.DB, invitation *models.Invitation, user *models.User) error {
	invitationID := invitation.ID

	switch invitation.InvitationType {
	case models.AuthorizedOfficial:
		link := &models.AoOrgLink{
			UserID:                 user.ID,
			ProviderOrganizationID: invitation.ProviderOrganizationID,
			InvitationID:           &invitationID,
		}
		if err := tx.Create(link).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return ErrDuplicateLink
			}
			return fmt.Errorf("registration: create ao link: %w", err)
		}
	case models.CredentialDelegate:
		link := &models.CdOrgLink{
			UserID:                 user.ID,
			ProviderOrganizationID: invitation.ProviderOrganizationID,
			InvitationID:           &invitationID,
		}
		if err := tx.Create(link).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return ErrDuplicateLink
			}
			return fmt.Errorf("registration: create cd link: %w", err)
		}
	default:
		return ErrInvalidInvitationType
	}

	invitation.Accept()
	if err := tx.Model(&models.Invitation{}).
		Where("id = ?", invitationID).
		Updates(map[string]any{
			"status":              models.InvitationAccepted,
			"invited_given_name":  "",
			"invited_family_name": "",
			"invited_email":       "",
			"invited_phone":       "",
			"verification_code":   "",
		}).Error; err != nil {
		return fmt.Errorf("registration: accept invitation: %w", err)
	}

	if invitation.IsAuthorizedOfficial() {
		approved := models.VerificationApproved
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("verification_status", approved).Error; err != nil {
			return fmt.Errorf("registration: approve user: %w", err)
		}
		if err := tx.Model(&models.ProviderOrganization{}).
			Where("id = ?", invitation.ProviderOrganizationID).
			Update("verification_status", approved).Error; err != nil {
			return fmt.Errorf("registration: approve organization: %w", err)
		}
		user.VerificationStatus = &approved
	}

	return nil
}
