package registration

import (
	"errors"
	"strings"

	"github.com/chartwellhealth/provider-portal/internal/identity"
	"github.com/chartwellhealth/provider-portal/internal/models"
)

// Identity-match failures. Missing claims are distinct from a mismatch so
// callers can tell the user which problem to fix with the IdP.
var (
	ErrIdentityMismatch = errors.New("registration: claims do not match invited identity")
	ErrMissingClaims    = errors.New("registration: required identity claims are missing")
)

// matchFunc decides whether an IdP claim set belongs to the invited person.
type matchFunc func(invitation *models.Invitation, claims *identity.Claims) error

// matchStrategies dispatches the identity-match rule on the invitation type.
var matchStrategies = map[models.InvitationType]matchFunc{
	models.AuthorizedOfficial: matchAuthorizedOfficial,
	models.CredentialDelegate: matchCredentialDelegate,
}

// matchAuthorizedOfficial only requires the invited email to belong to the
// IdP account; name and SSN are established by the eligibility check.
func matchAuthorizedOfficial(invitation *models.Invitation, claims *identity.Claims) error {
	if !emailMatches(invitation.InvitedEmail, claims) {
		return ErrIdentityMismatch
	}
	return nil
}

// matchCredentialDelegate requires the proofed name and phone to line up
// with what the authorized official entered on the invitation.
func matchCredentialDelegate(invitation *models.Invitation, claims *identity.Claims) error {
	if strings.TrimSpace(claims.GivenName) == "" ||
		strings.TrimSpace(claims.FamilyName) == "" ||
		strings.TrimSpace(claims.Phone) == "" {
		return ErrMissingClaims
	}

	if !strings.EqualFold(invitation.InvitedFamilyName, claims.FamilyName) {
		return ErrIdentityMismatch
	}
	if !phoneMatches(invitation.InvitedPhone, claims.Phone) {
		return ErrIdentityMismatch
	}
	if !emailMatches(invitation.InvitedEmail, claims) {
		return ErrIdentityMismatch
	}
	return nil
}

// emailMatches accepts the primary IdP email or any alternate address on the
// account, compared case-insensitively.
func emailMatches(invited string, claims *identity.Claims) bool {
	for _, email := range claims.KnownEmails() {
		if strings.EqualFold(invited, email) {
			return true
		}
	}
	return false
}

// phoneMatches compares phone numbers after stripping formatting and an
// optional leading country-code "1" on either side.
func phoneMatches(a, b string) bool {
	normA := stripCountryCode(models.NormalizePhone(a))
	normB := stripCountryCode(models.NormalizePhone(b))
	return normA != "" && normA == normB
}

func stripCountryCode(digits string) string {
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}
