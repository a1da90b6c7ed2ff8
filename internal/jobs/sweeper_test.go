package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chartwellhealth/provider-portal/internal/database/testutil"
	"github.com/chartwellhealth/provider-portal/internal/models"
	"github.com/chartwellhealth/provider-portal/internal/services"
)

func TestRunOnceExpiresInvitationsAndPurgesCache(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	org := &models.ProviderOrganization{Name: "Rural Health Associates", NPI: "1234567890"}
	require.NoError(t, db.Create(org).Error)

	svc, err := services.NewInvitationService(db, nil,
		services.WithInvitationClock(func() time.Time { return now }))
	require.NoError(t, err)

	stale, err := svc.CreateAO(context.Background(), org.ID, services.CreateAOInput{
		Email: "old@example.com", EmailConfirmation: "old@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(stale).Update("created_at", now.Add(-49*time.Hour)).Error)

	require.NoError(t, db.Create(&models.CacheEntry{
		Key: "flow:gone", Value: []byte("x"), ExpiresAt: now.Add(-time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key: "flow:live", Value: []byte("y"), ExpiresAt: now.Add(time.Hour),
	}).Error)

	sweeper := NewSweeper(db, svc, WithNow(func() time.Time { return now }))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var invitation models.Invitation
	require.NoError(t, db.First(&invitation, "id = ?", stale.ID).Error)
	require.Equal(t, models.InvitationExpired, invitation.Status)

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("key", &keys).Error)
	require.Equal(t, []string{"flow:live"}, keys)
}

func TestStartRegistersSchedules(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := services.NewInvitationService(db, nil)
	require.NoError(t, err)

	sweeper := NewSweeper(db, svc)
	require.NoError(t, sweeper.Start())
	<-sweeper.Stop().Done()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := services.NewInvitationService(db, nil)
	require.NoError(t, err)

	sweeper := NewSweeper(db, svc, WithInvitationSchedule("not-a-spec"))
	require.Error(t, sweeper.Start())
}
