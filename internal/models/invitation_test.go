package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func invitationAged(age time.Duration, invType InvitationType, status InvitationStatus) (*Invitation, time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	inv := &Invitation{
		InvitationType: invType,
		Status:         status,
	}
	inv.CreatedAt = now.Add(-age)
	return inv, now
}

func TestIsExpiredBoundary(t *testing.T) {
	cases := []struct {
		age     time.Duration
		expired bool
	}{
		{47*time.Hour + 59*time.Minute + 59*time.Second, false},
		{48 * time.Hour, true},
		{48*time.Hour + time.Second, true},
		{time.Hour, false},
	}

	for _, tc := range cases {
		inv, now := invitationAged(tc.age, AuthorizedOfficial, InvitationPending)
		require.Equal(t, tc.expired, inv.IsExpired(now), "age %s", tc.age)
	}
}

func TestExpiresIn(t *testing.T) {
	inv, now := invitationAged(47*time.Hour+59*time.Minute, AuthorizedOfficial, InvitationPending)
	hours, minutes := inv.ExpiresIn(now)
	require.Equal(t, 0, hours)
	require.Equal(t, 1, minutes)

	inv, now = invitationAged(time.Hour, AuthorizedOfficial, InvitationPending)
	hours, minutes = inv.ExpiresIn(now)
	require.Equal(t, 47, hours)
	require.Equal(t, 0, minutes)

	inv, now = invitationAged(49*time.Hour, AuthorizedOfficial, InvitationPending)
	hours, minutes = inv.ExpiresIn(now)
	require.Equal(t, 0, hours)
	require.Equal(t, 0, minutes)
}

func TestUnacceptableReasonPrecedence(t *testing.T) {
	cases := []struct {
		name   string
		age    time.Duration
		typ    InvitationType
		status InvitationStatus
		want   UnacceptableReason
	}{
		{"pending fresh ao", time.Hour, AuthorizedOfficial, InvitationPending, ReasonNone},
		{"pending fresh cd", time.Hour, CredentialDelegate, InvitationPending, ReasonNone},
		{"cancelled wins over expired", 72 * time.Hour, AuthorizedOfficial, InvitationCancelled, ReasonInvalid},
		{"cancelled cd", time.Hour, CredentialDelegate, InvitationCancelled, ReasonInvalid},
		{"renewed ao wins over expired", 72 * time.Hour, AuthorizedOfficial, InvitationRenewed, ReasonAoRenewed},
		{"accepted ao wins over expired", 72 * time.Hour, AuthorizedOfficial, InvitationAccepted, ReasonAoAccepted},
		{"accepted cd", time.Hour, CredentialDelegate, InvitationAccepted, ReasonCdAccepted},
		{"expired ao", 48 * time.Hour, AuthorizedOfficial, InvitationPending, ReasonAoExpired},
		{"expired cd", 48*time.Hour + time.Minute, CredentialDelegate, InvitationPending, ReasonCdExpired},
		{"status expired ao before age", time.Hour, AuthorizedOfficial, InvitationExpired, ReasonAoExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv, now := invitationAged(tc.age, tc.typ, tc.status)
			require.Equal(t, tc.want, inv.UnacceptableReason(now))
		})
	}
}

func TestRenewable(t *testing.T) {
	inv, now := invitationAged(49*time.Hour, AuthorizedOfficial, InvitationPending)
	require.True(t, inv.Renewable(now))

	inv, now = invitationAged(49*time.Hour, AuthorizedOfficial, InvitationExpired)
	require.True(t, inv.Renewable(now))

	// Fresh invitations have nothing to renew.
	inv, now = invitationAged(time.Hour, AuthorizedOfficial, InvitationPending)
	require.False(t, inv.Renewable(now))

	// CD invitations are never renewable.
	inv, now = invitationAged(49*time.Hour, CredentialDelegate, InvitationPending)
	require.False(t, inv.Renewable(now))

	inv, now = invitationAged(49*time.Hour, AuthorizedOfficial, InvitationRenewed)
	require.False(t, inv.Renewable(now))

	inv, now = invitationAged(49*time.Hour, AuthorizedOfficial, InvitationAccepted)
	require.False(t, inv.Renewable(now))
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "8772883133", NormalizePhone("877-288-3133"))
	require.Equal(t, "18772883133", NormalizePhone("+1 (877) 288-3133"))
	require.Equal(t, "", NormalizePhone("not a number"))
}

func TestAcceptScrubsInvitedIdentity(t *testing.T) {
	inv, _ := invitationAged(time.Hour, CredentialDelegate, InvitationPending)
	inv.InvitedGivenName = "Bob"
	inv.InvitedFamilyName = "Hodges"
	inv.InvitedEmail = "bob@example.com"
	inv.InvitedPhone = "8772883133"
	inv.VerificationCode = "123456"

	inv.Accept()
	require.Equal(t, InvitationAccepted, inv.Status)
	require.Empty(t, inv.InvitedGivenName)
	require.Empty(t, inv.InvitedFamilyName)
	require.Empty(t, inv.InvitedEmail)
	require.Empty(t, inv.InvitedPhone)
	require.Empty(t, inv.VerificationCode)

	// A second call must never revert state.
	inv.Accept()
	require.Equal(t, InvitationAccepted, inv.Status)
}

func TestInvitedFullName(t *testing.T) {
	inv := &Invitation{InvitedGivenName: "Bob", InvitedFamilyName: "Hodges"}
	require.Equal(t, "Bob Hodges", inv.InvitedFullName())
}
