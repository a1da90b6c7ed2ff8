package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chartwellhealth/provider-portal/internal/database/testutil"
	"github.com/chartwellhealth/provider-portal/internal/models"
	"github.com/chartwellhealth/provider-portal/pkg/mail"
)

type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

func seedOrganization(t *testing.T, db *gorm.DB) *models.ProviderOrganization {
	t.Helper()
	org := &models.ProviderOrganization{Name: "Rural Health Associates", NPI: "1234567890"}
	require.NoError(t, db.Create(org).Error)
	return org
}

func seedInviter(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{Subject: "inviter-subject", Email: "ao@example.com"}
	require.NoError(t, db.Create(user).Error)
	return user
}

func newTestService(t *testing.T, db *gorm.DB, mailer mail.Mailer, opts ...InvitationOption) *InvitationService {
	t.Helper()
	service, err := NewInvitationService(db, mailer, opts...)
	require.NoError(t, err)
	return service
}

func TestCreateCDPersistsAndNotifies(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	inviter := seedInviter(t, db)
	mailer := &captureMailer{}
	service := newTestService(t, db, mailer)

	invitation, err := service.CreateCD(context.Background(), org.ID, CreateCDInput{
		InvitedByID:       inviter.ID,
		GivenName:         "Bob",
		FamilyName:        "Hodges",
		Email:             "Bob@Example.com",
		EmailConfirmation: "bob@example.com",
		Phone:             "(877) 288-3133",
	})
	require.NoError(t, err)
	require.Equal(t, models.CredentialDelegate, invitation.InvitationType)
	require.Equal(t, models.InvitationPending, invitation.Status)
	require.Equal(t, "bob@example.com", invitation.InvitedEmail)
	require.Equal(t, "8772883133", invitation.InvitedPhone)
	require.Len(t, invitation.VerificationCode, 6)
	require.Equal(t, inviter.ID, *invitation.InvitedByID)

	messages := mailer.sent()
	require.Len(t, messages, 1)
	require.Equal(t, []string{"bob@example.com"}, messages[0].To)
	require.Contains(t, messages[0].Body, invitation.VerificationCode)
}

func TestCreateCDValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	service := newTestService(t, db, nil)

	_, err := service.CreateCD(context.Background(), org.ID, CreateCDInput{
		Email:             "bob@example.com",
		EmailConfirmation: "other@example.com",
		Phone:             "123",
	})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	fields := make(map[string]string, len(verr.Fields))
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	require.Contains(t, fields, "given_name")
	require.Contains(t, fields, "family_name")
	require.Contains(t, fields, "invited_by")
	require.Contains(t, fields, "email_confirmation")
	require.Equal(t, "must contain exactly 10 digits", fields["phone"])
}

func TestCreateAOAllowsMissingNameAndPhone(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	service := newTestService(t, db, nil)

	invitation, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email:             "ao@example.com",
		EmailConfirmation: "AO@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, models.AuthorizedOfficial, invitation.InvitationType)
	require.Empty(t, invitation.InvitedGivenName)
	require.Empty(t, invitation.VerificationCode)
	require.Nil(t, invitation.InvitedByID)
}

func TestCreateAORejectsMalformedEmail(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	service := newTestService(t, db, nil)

	_, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email:             "not-an-email",
		EmailConfirmation: "not-an-email",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFindScopesToOrganization(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	other := &models.ProviderOrganization{Name: "Other Clinic", NPI: "0987654321"}
	require.NoError(t, db.Create(other).Error)
	service := newTestService(t, db, nil)

	invitation, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "ao@example.com", EmailConfirmation: "ao@example.com",
	})
	require.NoError(t, err)

	found, err := service.Find(context.Background(), org.ID, invitation.ID)
	require.NoError(t, err)
	require.Equal(t, invitation.ID, found.ID)
	require.NotNil(t, found.ProviderOrganization)

	_, err = service.Find(context.Background(), other.ID, invitation.ID)
	require.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestCancelRejectsAccepted(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	service := newTestService(t, db, nil)

	invitation, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "ao@example.com", EmailConfirmation: "ao@example.com",
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(invitation).Update("status", models.InvitationAccepted).Error)
	err = service.Cancel(context.Background(), org.ID, invitation.ID)
	require.ErrorIs(t, err, ErrCannotCancelAccepted)

	require.NoError(t, db.Model(invitation).Update("status", models.InvitationPending).Error)
	require.NoError(t, service.Cancel(context.Background(), org.ID, invitation.ID))

	found, err := service.Find(context.Background(), org.ID, invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationCancelled, found.Status)
}

func TestRenewCreatesReplacement(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	mailer := &captureMailer{}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, mailer, WithInvitationClock(func() time.Time { return now }))

	invitation, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "ao@example.com", EmailConfirmation: "ao@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(invitation).Update("created_at", now.Add(-49*time.Hour)).Error)
	invitation.CreatedAt = now.Add(-49 * time.Hour)

	replacement, err := service.Renew(context.Background(), invitation)
	require.NoError(t, err)
	require.NotEqual(t, invitation.ID, replacement.ID)
	require.Equal(t, models.InvitationPending, replacement.Status)
	require.Equal(t, "ao@example.com", replacement.InvitedEmail)

	original, err := service.Find(context.Background(), org.ID, invitation.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationRenewed, original.Status)

	// Creation notice plus renewal notice.
	require.Len(t, mailer.sent(), 2)
}

func TestRenewRejectsFreshAndCDInvitations(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)
	inviter := seedInviter(t, db)
	service := newTestService(t, db, nil)

	fresh, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "ao@example.com", EmailConfirmation: "ao@example.com",
	})
	require.NoError(t, err)
	_, err = service.Renew(context.Background(), fresh)
	require.ErrorIs(t, err, ErrNotRenewable)

	cd, err := service.CreateCD(context.Background(), org.ID, CreateCDInput{
		InvitedByID: inviter.ID, GivenName: "Bob", FamilyName: "Hodges",
		Email: "bob@example.com", EmailConfirmation: "bob@example.com", Phone: "8772883133",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(cd).Update("created_at", time.Now().Add(-49*time.Hour)).Error)
	cd.CreatedAt = time.Now().Add(-49 * time.Hour)

	_, err = service.Renew(context.Background(), cd)
	require.ErrorIs(t, err, ErrNotRenewable)
}

func TestRenewGuardsAgainstDoubleRenewal(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, nil, WithInvitationClock(func() time.Time { return now }))

	invitation, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "ao@example.com", EmailConfirmation: "ao@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(invitation).Update("created_at", now.Add(-49*time.Hour)).Error)
	invitation.CreatedAt = now.Add(-49 * time.Hour)

	_, err = service.Renew(context.Background(), invitation)
	require.NoError(t, err)

	// A second caller raced on a stale copy of the same invitation.
	stale := *invitation
	stale.Status = models.InvitationPending
	_, err = service.Renew(context.Background(), &stale)
	require.ErrorIs(t, err, ErrRenewConflict)
}

func TestExpireStale(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	org := seedOrganization(t, db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, nil, WithInvitationClock(func() time.Time { return now }))

	stale, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "old@example.com", EmailConfirmation: "old@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(stale).Update("created_at", now.Add(-49*time.Hour)).Error)

	fresh, err := service.CreateAO(context.Background(), org.ID, CreateAOInput{
		Email: "new@example.com", EmailConfirmation: "new@example.com",
	})
	require.NoError(t, err)

	count, err := service.ExpireStale(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	reloaded, err := service.Find(context.Background(), org.ID, stale.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, reloaded.Status)

	reloaded, err = service.Find(context.Background(), org.ID, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, reloaded.Status)
}
