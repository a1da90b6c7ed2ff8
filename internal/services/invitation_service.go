package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chartwellhealth/provider-portal/internal/models"
	pkgmail "github.com/chartwellhealth/provider-portal/pkg/mail"
	"github.com/chartwellhealth/provider-portal/pkg/logger"
)

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithInvitationBaseURL configures the base URL used in invitation emails.
func WithInvitationBaseURL(url string) InvitationOption {
	return func(s *InvitationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// InvitationService manages invitation creation and lifecycle transitions.
type InvitationService struct {
	db      *gorm.DB
	mailer  pkgmail.Mailer
	baseURL string
	now     func() time.Time
	log     *zap.Logger
}

// NewInvitationService constructs an InvitationService with the provided dependencies.
func NewInvitationService(db *gorm.DB, mailer pkgmail.Mailer, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}

	service := &InvitationService{
		db:     db,
		mailer: mailer,
		now:    time.Now,
		log:    logger.WithModule("invitations"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateCDInput captures the fields an authorized official supplies when
// inviting a credential delegate.
type CreateCDInput struct {
	InvitedByID       string
	GivenName         string
	FamilyName        string
	Email             string
	EmailConfirmation string
	Phone             string
}

// CreateAOInput captures the fields needed for an authorized official
// invitation. Name and phone are optional; the identity provider supplies
// them during verification.
type CreateAOInput struct {
	GivenName         string
	FamilyName        string
	Email             string
	EmailConfirmation string
}

// CreateCD validates and persists a credential delegate invitation, then
// sends the invitation notice.
func (s *InvitationService) CreateCD(ctx context.Context, orgID string, input CreateCDInput) (*models.Invitation, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(input.GivenName) == "" {
		verr.add("given_name", "is required")
	}
	if strings.TrimSpace(input.FamilyName) == "" {
		verr.add("family_name", "is required")
	}
	if strings.TrimSpace(input.InvitedByID) == "" {
		verr.add("invited_by", "is required")
	}
	validateEmailPair(verr, input.Email, input.EmailConfirmation)

	phone := models.NormalizePhone(input.Phone)
	if strings.TrimSpace(input.Phone) == "" {
		verr.add("phone", "is required")
	} else if len(phone) != 10 {
		verr.add("phone", "must contain exactly 10 digits")
	}
	if err := verr.err(); err != nil {
		return nil, err
	}

	code, err := generateVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("invitation service: generate code: %w", err)
	}

	invitedBy := strings.TrimSpace(input.InvitedByID)
	invitation := &models.Invitation{
		InvitationType:         models.CredentialDelegate,
		Status:                 models.InvitationPending,
		ProviderOrganizationID: orgID,
		InvitedByID:            &invitedBy,
		InvitedGivenName:       strings.TrimSpace(input.GivenName),
		InvitedFamilyName:      strings.TrimSpace(input.FamilyName),
		InvitedEmail:           strings.ToLower(strings.TrimSpace(input.Email)),
		InvitedPhone:           phone,
		VerificationCode:       code,
	}

	if err := s.db.WithContext(ctx).Create(invitation).Error; err != nil {
		return nil, fmt.Errorf("invitation service: create cd invitation: %w", err)
	}

	s.sendInviteNotice(ctx, invitation)
	return invitation, nil
}

// CreateAO validates and persists an authorized official invitation, then
// sends the invitation notice.
func (s *InvitationService) CreateAO(ctx context.Context, orgID string, input CreateAOInput) (*models.Invitation, error) {
	verr := &ValidationError{}
	validateEmailPair(verr, input.Email, input.EmailConfirmation)
	if err := verr.err(); err != nil {
		return nil, err
	}

	invitation := &models.Invitation{
		InvitationType:         models.AuthorizedOfficial,
		Status:                 models.InvitationPending,
		ProviderOrganizationID: orgID,
		InvitedGivenName:       strings.TrimSpace(input.GivenName),
		InvitedFamilyName:      strings.TrimSpace(input.FamilyName),
		InvitedEmail:           strings.ToLower(strings.TrimSpace(input.Email)),
	}

	if err := s.db.WithContext(ctx).Create(invitation).Error; err != nil {
		return nil, fmt.Errorf("invitation service: create ao invitation: %w", err)
	}

	s.sendInviteNotice(ctx, invitation)
	return invitation, nil
}

// Find loads an invitation scoped to its owning organization. A mismatched
// organization is indistinguishable from a missing invitation.
func (s *InvitationService) Find(ctx context.Context, orgID, invitationID string) (*models.Invitation, error) {
	var invitation models.Invitation
	err := s.db.WithContext(ctx).
		Preload("ProviderOrganization").
		Preload("InvitedBy").
		Where("id = ? AND provider_organization_id = ?", invitationID, orgID).
		First(&invitation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: find invitation: %w", err)
	}
	return &invitation, nil
}

// Cancel marks a pending invitation cancelled. Accepted invitations can
// never transition back to cancelled.
func (s *InvitationService) Cancel(ctx context.Context, orgID, invitationID string) error {
	invitation, err := s.Find(ctx, orgID, invitationID)
	if err != nil {
		return err
	}
	if invitation.Status == models.InvitationAccepted {
		return ErrCannotCancelAccepted
	}

	return s.db.WithContext(ctx).
		Model(invitation).
		Update("status", models.InvitationCancelled).Error
}

// Renew creates a replacement invitation for an expired authorized official
// invitation and marks the original renewed. The status flip is a guarded
// single-writer transition so concurrent renewals produce one replacement.
func (s *InvitationService) Renew(ctx context.Context, invitation *models.Invitation) (*models.Invitation, error) {
	now := s.now()
	if !invitation.Renewable(now) {
		return nil, ErrNotRenewable
	}

	var replacement *models.Invitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.Invitation{}).
			Where("id = ? AND status IN ?", invitation.ID,
				[]models.InvitationStatus{models.InvitationPending, models.InvitationExpired}).
			Update("status", models.InvitationRenewed)
		if claim.Error != nil {
			return fmt.Errorf("invitation service: mark renewed: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return ErrRenewConflict
		}

		replacement = &models.Invitation{
			InvitationType:         models.AuthorizedOfficial,
			Status:                 models.InvitationPending,
			ProviderOrganizationID: invitation.ProviderOrganizationID,
			InvitedGivenName:       invitation.InvitedGivenName,
			InvitedFamilyName:      invitation.InvitedFamilyName,
			InvitedEmail:           invitation.InvitedEmail,
		}
		if err := tx.Create(replacement).Error; err != nil {
			return fmt.Errorf("invitation service: create replacement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invitation.Status = models.InvitationRenewed
	s.sendInviteNotice(ctx, replacement)
	s.log.Info("invitation renewed",
		zap.String("invitation_id", invitation.ID),
		zap.String("replacement_id", replacement.ID))
	return replacement, nil
}

// ExpireStale marks pending invitations past their validity window as
// expired. Used by the background sweeper; the computed expiry in
// UnacceptableReason keeps correctness even between sweeps.
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-models.InvitationLifetime)
	result := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("status = ? AND created_at <= ?", models.InvitationPending, cutoff).
		Update("status", models.InvitationExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("invitation service: expire stale: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *InvitationService) sendInviteNotice(ctx context.Context, invitation *models.Invitation) {
	if s.mailer == nil || invitation.InvitedEmail == "" {
		return
	}

	subject := "You have been invited to register a provider organization"
	if invitation.IsCredentialDelegate() {
		subject = "You have been invited to manage credentials for a provider organization"
	}

	message := pkgmail.Message{
		To:      []string{invitation.InvitedEmail},
		Subject: subject,
		Body:    s.inviteBody(invitation),
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, pkgmail.ErrSMTPDisabled) {
		// Delivery failures never block the invitation itself.
		s.log.Warn("invitation notice delivery failed",
			zap.String("invitation_id", invitation.ID), zap.Error(err))
	}
}

func (s *InvitationService) inviteBody(invitation *models.Invitation) string {
	link := invitation.ID
	if s.baseURL != "" {
		link = fmt.Sprintf("%s/organizations/%s/invitations/%s",
			s.baseURL, invitation.ProviderOrganizationID, invitation.ID)
	}

	var b strings.Builder
	b.WriteString("Hello")
	if name := invitation.InvitedFullName(); name != "" {
		b.WriteString(" " + name)
	}
	b.WriteString(",\n\nFollow the link below to verify your identity and complete registration:\n")
	b.WriteString(link)
	b.WriteString("\n\nThis invitation expires 48 hours after it was created.\n")
	if invitation.IsCredentialDelegate() && invitation.VerificationCode != "" {
		b.WriteString(fmt.Sprintf("\nYour verification code is %s.\n", invitation.VerificationCode))
	}
	return b.String()
}

func validateEmailPair(verr *ValidationError, email, confirmation string) {
	email = strings.TrimSpace(email)
	if email == "" {
		verr.add("email", "is required")
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		verr.add("email", "is not a valid address")
	}
	if !strings.EqualFold(email, strings.TrimSpace(confirmation)) {
		verr.add("email_confirmation", "must match email")
	}
}

func generateVerificationCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
