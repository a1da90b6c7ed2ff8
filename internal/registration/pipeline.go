package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chartwellhealth/provider-portal/internal/eligibility"
	"github.com/chartwellhealth/provider-portal/internal/identity"
	"github.com/chartwellhealth/provider-portal/internal/models"
	"github.com/chartwellhealth/provider-portal/internal/services"
	"github.com/chartwellhealth/provider-portal/pkg/crypto"
	apperrors "github.com/chartwellhealth/provider-portal/pkg/errors"
	"github.com/chartwellhealth/provider-portal/pkg/logger"
	"github.com/chartwellhealth/provider-portal/pkg/metrics"
)

// Display step numbers for rejection views.
const (
	StepIdentity    = 1
	StepEligibility = 2
	StepRegister    = 3
)

const stateTokenBytes = 32

// UnacceptableError is returned when an invitation is in a terminal or
// ineligible status. The reason selects the rejection view.
type UnacceptableError struct {
	Reason models.UnacceptableReason
}

func (e *UnacceptableError) Error() string {
	return "registration: invitation unacceptable: " + string(e.Reason)
}

// ShowPath is the canonical entry URL for one invitation flow.
func ShowPath(orgID, invitationID string) string {
	return fmt.Sprintf("/portal/organizations/%s/invitations/%s", orgID, invitationID)
}

// StepResult is the outcome of one flow transition. A non-empty Redirect
// means the caller must be redirected instead of shown a view; this covers
// both the IdP login gate and wrong-flow corrections.
type StepResult struct {
	Redirect   string
	Invitation *models.Invitation
	GivenName  string
	FamilyName string
	Step       int
}

// ShowResult carries the data rendered on the invitation entry view.
type ShowResult struct {
	Invitation       *models.Invitation
	Organization     *models.ProviderOrganization
	ExpiresInHours   int
	ExpiresInMinutes int
}

// RegisterResult is the outcome of the terminal registration step.
type RegisterResult struct {
	User       *models.User
	Invitation *models.Invitation
}

// PipelineOption customises Pipeline behaviour.
type PipelineOption func(*Pipeline)

// WithPipelineClock injects a custom clock primarily for testing.
func WithPipelineClock(clock func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Pipeline drives the invitation verification flow. Every transition
// re-evaluates the acceptability gate; session stage is an optimisation,
// never the source of truth for link creation.
type Pipeline struct {
	db          *gorm.DB
	invitations *services.InvitationService
	sessions    *SessionStore
	idp         identity.Service
	eligibility eligibility.Service
	now         func() time.Time
	audit       *zap.Logger
}

// NewPipeline constructs the verification pipeline with its collaborators.
func NewPipeline(
	db *gorm.DB,
	invitations *services.InvitationService,
	sessions *SessionStore,
	idp identity.Service,
	eligibilityService eligibility.Service,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if db == nil {
		return nil, errors.New("registration: db is required")
	}
	if invitations == nil || sessions == nil || idp == nil || eligibilityService == nil {
		return nil, errors.New("registration: all collaborators are required")
	}

	pipeline := &Pipeline{
		db:          db,
		invitations: invitations,
		sessions:    sessions,
		idp:         idp,
		eligibility: eligibilityService,
		now:         time.Now,
		audit:       logger.Audit(),
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// Show loads the invitation for its entry view. The acceptability gate runs
// here and on every later transition; an invitation can expire mid-flow.
func (p *Pipeline) Show(ctx context.Context, orgID, invitationID string) (*ShowResult, error) {
	invitation, err := p.loadAcceptable(ctx, "show", orgID, invitationID)
	if err != nil {
		return nil, err
	}

	hours, minutes := invitation.ExpiresIn(p.now())
	return &ShowResult{
		Invitation:       invitation,
		Organization:     invitation.ProviderOrganization,
		ExpiresInHours:   hours,
		ExpiresInMinutes: minutes,
	}, nil
}

// Login starts the IdP redirect for an invitation, storing a fresh nonce and
// anti-CSRF state in the session.
func (p *Pipeline) Login(ctx context.Context, sessionID, orgID, invitationID string) (string, error) {
	invitation, err := p.loadAcceptable(ctx, "login", orgID, invitationID)
	if err != nil {
		return "", err
	}
	return p.beginLogin(ctx, sessionID, invitation)
}

// Callback completes the IdP round trip: it verifies the anti-CSRF state,
// exchanges the code and stores the token in the invitation's flow state.
// The returned path points back at the invitation that initiated login.
func (p *Pipeline) Callback(ctx context.Context, sessionID, state, code string) (string, error) {
	login, ok, err := p.sessions.LoadLogin(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok || login.State == "" || login.State != state {
		p.audit.Warn("idp callback state mismatch", zap.String("session_id", sessionID))
		return "", apperrors.NewForbidden("STATE_MISMATCH", "Login request could not be verified")
	}

	token, err := p.idp.Exchange(ctx, code, login.Nonce)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			return "", apperrors.NewServiceUnavailable("IDP_UNAVAILABLE", "The identity provider is unavailable").WithInternal(err)
		}
		return "", apperrors.ErrUnauthorized.WithInternal(err)
	}

	flow, err := p.sessions.Load(ctx, sessionID, login.InvitationID)
	if err != nil {
		return "", err
	}
	flow.AccessToken = token.AccessToken
	flow.TokenExpiresAt = token.ExpiresAt
	flow.Nonce = ""
	flow.State = ""
	if err := p.sessions.Save(ctx, sessionID, login.InvitationID, flow); err != nil {
		return "", err
	}
	if err := p.sessions.ClearLogin(ctx, sessionID); err != nil {
		return "", err
	}

	return ShowPath(login.OrganizationID, login.InvitationID), nil
}

// SetToken stores an externally established IdP token for an invitation
// flow. Only reachable through the test-only endpoint.
func (p *Pipeline) SetToken(ctx context.Context, sessionID, invitationID, accessToken string, expiresAt time.Time) error {
	flow, err := p.sessions.Load(ctx, sessionID, invitationID)
	if err != nil {
		return err
	}
	flow.AccessToken = accessToken
	flow.TokenExpiresAt = expiresAt
	return p.sessions.Save(ctx, sessionID, invitationID, flow)
}

// Accept is the authorized official identity-match step.
func (p *Pipeline) Accept(ctx context.Context, sessionID, orgID, invitationID string) (*StepResult, error) {
	return p.identityStep(ctx, "accept", sessionID, orgID, invitationID, models.AuthorizedOfficial, "")
}

// ConfirmCD is the credential delegate identity-match step. The verification
// code from the invitation notice must be presented alongside the proofed
// identity.
func (p *Pipeline) ConfirmCD(ctx context.Context, sessionID, orgID, invitationID, verificationCode string) (*StepResult, error) {
	return p.identityStep(ctx, "confirm_cd", sessionID, orgID, invitationID, models.CredentialDelegate, verificationCode)
}

func (p *Pipeline) identityStep(
	ctx context.Context,
	action, sessionID, orgID, invitationID string,
	wantType models.InvitationType,
	verificationCode string,
) (*StepResult, error) {
	invitation, err := p.loadAcceptable(ctx, action, orgID, invitationID)
	if err != nil {
		return nil, err
	}
	if invitation.InvitationType != wantType {
		return &StepResult{Redirect: ShowPath(orgID, invitationID)}, nil
	}

	if invitation.IsCredentialDelegate() && invitation.VerificationCode != "" &&
		invitation.VerificationCode != strings.TrimSpace(verificationCode) {
		p.logRejection(action, invitation, "bad_verification_code")
		return nil, apperrors.NewForbidden("BAD_VERIFICATION_CODE", "The verification code does not match this invitation")
	}

	flow, err := p.sessions.Load(ctx, sessionID, invitationID)
	if err != nil {
		return nil, err
	}

	claims, redirect, err := p.fetchClaims(ctx, action, sessionID, invitation, flow)
	if err != nil {
		return nil, err
	}
	if redirect != "" {
		return &StepResult{Redirect: redirect}, nil
	}

	if err := matchStrategies[invitation.InvitationType](invitation, claims); err != nil {
		switch {
		case errors.Is(err, ErrMissingClaims):
			p.logRejection(action, invitation, "missing_claims")
			return nil, apperrors.NewForbidden("MISSING_INFO", "Required identity information is missing from the verified account")
		default:
			p.logRejection(action, invitation, "identity_mismatch")
			return nil, apperrors.NewForbidden("IDENTITY_MISMATCH", "The verified identity does not match this invitation")
		}
	}

	if flow.Stage < StageIdentityVerified {
		flow.Stage = StageIdentityVerified
	}
	// Credential delegates have no eligibility step; the identity match
	// completes their verification.
	if invitation.IsCredentialDelegate() {
		flow.Stage = StageVerificationComplete
	}
	flow.GivenName = claims.GivenName
	flow.FamilyName = claims.FamilyName
	if err := p.sessions.Save(ctx, sessionID, invitationID, flow); err != nil {
		return nil, err
	}

	p.logSuccess(action, invitation)
	return &StepResult{
		Invitation: invitation,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Step:       StepIdentity,
	}, nil
}

// Confirm is the authorized official eligibility step. It requires a prior
// identity match and consults the eligibility gateway with the proofed SSN.
func (p *Pipeline) Confirm(ctx context.Context, sessionID, orgID, invitationID string) (*StepResult, error) {
	invitation, err := p.loadAcceptable(ctx, "confirm", orgID, invitationID)
	if err != nil {
		return nil, err
	}
	if !invitation.IsAuthorizedOfficial() {
		return &StepResult{Redirect: ShowPath(orgID, invitationID)}, nil
	}

	flow, err := p.sessions.Load(ctx, sessionID, invitationID)
	if err != nil {
		return nil, err
	}
	if flow.Stage < StageIdentityVerified {
		return &StepResult{Redirect: ShowPath(orgID, invitationID)}, nil
	}

	claims, redirect, err := p.fetchClaims(ctx, "confirm", sessionID, invitation, flow)
	if err != nil {
		return nil, err
	}
	if redirect != "" {
		return &StepResult{Redirect: redirect}, nil
	}

	ssn := eligibility.NormalizeSSN(claims.SocialSecurityNumber)
	if ssn == "" {
		p.logRejection("confirm", invitation, "missing_ssn")
		return nil, apperrors.NewForbidden("MISSING_INFO", "The verified account has no social security number on file")
	}

	organization := invitation.ProviderOrganization
	result, err := p.eligibility.CheckEligibility(ctx, organization.NPI, ssn)
	if err != nil {
		return nil, apperrors.NewServiceUnavailable("ELIGIBILITY_UNAVAILABLE", "The eligibility service is unavailable").WithInternal(err)
	}

	if !result.Success {
		metrics.EligibilityChecks.WithLabelValues(string(result.FailureReason)).Inc()
		p.logRejection("confirm", invitation, string(result.FailureReason))
		code := strings.ToUpper(string(result.FailureReason))
		if result.FailureReason.IsServerError() {
			return nil, apperrors.NewServiceUnavailable(code, "The eligibility check could not be completed")
		}
		return nil, apperrors.NewForbidden(code, "Eligibility could not be confirmed for this organization")
	}
	metrics.EligibilityChecks.WithLabelValues("success").Inc()

	flow.Stage = StageVerificationComplete
	if result.AoRole != nil {
		flow.RegistryParticipantID = result.AoRole.RegistryParticipantID
	}
	if err := p.sessions.Save(ctx, sessionID, invitationID, flow); err != nil {
		return nil, err
	}

	if result.HasOrgWaiver || result.HasAoWaiver {
		p.recordWaivers(ctx, invitation, result)
	}

	p.logSuccess("confirm", invitation)
	return &StepResult{Invitation: invitation, Step: StepEligibility}, nil
}

// Register is the terminal step: it resolves the local user, creates the
// membership link atomically and clears the flow state. The database
// uniqueness constraints decide the winner of a double submit.
func (p *Pipeline) Register(ctx context.Context, sessionID, orgID, invitationID string) (*RegisterResult, *StepResult, error) {
	invitation, err := p.loadAcceptable(ctx, "register", orgID, invitationID)
	if err != nil {
		return nil, nil, err
	}

	flow, err := p.sessions.Load(ctx, sessionID, invitationID)
	if err != nil {
		return nil, nil, err
	}
	if flow.Stage < StageVerificationComplete {
		return nil, &StepResult{Redirect: ShowPath(orgID, invitationID)}, nil
	}

	claims, redirect, err := p.fetchClaims(ctx, "register", sessionID, invitation, flow)
	if err != nil {
		return nil, nil, err
	}
	if redirect != "" {
		return nil, &StepResult{Redirect: redirect}, nil
	}

	user, err := p.resolveUser(ctx, claims, flow)
	if err != nil {
		return nil, nil, err
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return finalize(tx, invitation, user)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateLink):
			p.logRejection("register", invitation, "duplicate_link")
			return nil, nil, err
		case errors.Is(err, ErrInvalidInvitationType):
			p.logRejection("register", invitation, "invalid_invitation_type")
			return nil, nil, apperrors.ErrUnprocessable.WithInternal(err)
		default:
			return nil, nil, err
		}
	}

	if err := p.sessions.Clear(ctx, sessionID, invitationID); err != nil {
		return nil, nil, err
	}

	metrics.Registrations.WithLabelValues(string(invitation.InvitationType)).Inc()
	p.logSuccess("register", invitation)
	return &RegisterResult{User: user, Invitation: invitation}, nil, nil
}

// Renew creates a replacement for an expired authorized official invitation.
// The caller is redirected back to the show step regardless of outcome.
func (p *Pipeline) Renew(ctx context.Context, orgID, invitationID string) (*models.Invitation, error) {
	invitation, err := p.invitations.Find(ctx, orgID, invitationID)
	if err != nil {
		return nil, err
	}

	replacement, err := p.invitations.Renew(ctx, invitation)
	if err != nil {
		return nil, err
	}

	p.logSuccess("renew", invitation)
	return replacement, nil
}

// loadAcceptable loads the invitation scoped to its organization and applies
// the acceptability gate. Rejections are audit-logged with the action that
// triggered them.
func (p *Pipeline) loadAcceptable(ctx context.Context, action, orgID, invitationID string) (*models.Invitation, error) {
	invitation, err := p.invitations.Find(ctx, orgID, invitationID)
	if err != nil {
		if errors.Is(err, services.ErrInvitationNotFound) {
			metrics.InvitationFlowSteps.WithLabelValues(action, "not_found").Inc()
			return nil, apperrors.ErrNotFound.WithInternal(err)
		}
		return nil, err
	}

	if reason := invitation.UnacceptableReason(p.now()); reason != models.ReasonNone {
		p.logRejection(action, invitation, string(reason))
		return nil, &UnacceptableError{Reason: reason}
	}
	return invitation, nil
}

// fetchClaims applies the identity-token gate and retrieves claims. An empty
// claims result with a non-empty redirect means the caller must re-enter the
// IdP login flow.
func (p *Pipeline) fetchClaims(
	ctx context.Context,
	action, sessionID string,
	invitation *models.Invitation,
	flow *FlowState,
) (*identity.Claims, string, error) {
	if !flow.TokenValid(p.now()) {
		redirect, err := p.beginLogin(ctx, sessionID, invitation)
		return nil, redirect, err
	}

	claims, err := p.idp.FetchClaims(ctx, flow.AccessToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrTokenRejected):
			redirect, loginErr := p.beginLogin(ctx, sessionID, invitation)
			return nil, redirect, loginErr
		default:
			p.logRejection(action, invitation, "claims_unavailable")
			return nil, "", apperrors.NewServiceUnavailable("CLAIMS_UNAVAILABLE", "Identity information is temporarily unavailable").WithInternal(err)
		}
	}
	return claims, "", nil
}

// beginLogin stores a fresh nonce and state for the session and returns the
// IdP authorize URL.
func (p *Pipeline) beginLogin(ctx context.Context, sessionID string, invitation *models.Invitation) (string, error) {
	nonce, err := crypto.GenerateToken(stateTokenBytes)
	if err != nil {
		return "", fmt.Errorf("registration: generate nonce: %w", err)
	}
	state, err := crypto.GenerateToken(stateTokenBytes)
	if err != nil {
		return "", fmt.Errorf("registration: generate state: %w", err)
	}

	flow, err := p.sessions.Load(ctx, sessionID, invitation.ID)
	if err != nil {
		return "", err
	}
	flow.Nonce = nonce
	flow.State = state
	if err := p.sessions.Save(ctx, sessionID, invitation.ID, flow); err != nil {
		return "", err
	}

	login := &LoginState{
		State:          state,
		Nonce:          nonce,
		OrganizationID: invitation.ProviderOrganizationID,
		InvitationID:   invitation.ID,
	}
	if err := p.sessions.SaveLogin(ctx, sessionID, login); err != nil {
		return "", err
	}

	return p.idp.AuthorizeURL(state, nonce), nil
}

// resolveUser finds or creates the local account keyed by the IdP subject,
// backfilling the registry participant identifier when absent.
func (p *Pipeline) resolveUser(ctx context.Context, claims *identity.Claims, flow *FlowState) (*models.User, error) {
	var user models.User
	err := p.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", "openid_connect", claims.Subject).
		First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Provider:              "openid_connect",
			Subject:               claims.Subject,
			Email:                 strings.ToLower(claims.Email),
			GivenName:             claims.GivenName,
			FamilyName:            claims.FamilyName,
			RegistryParticipantID: flow.RegistryParticipantID,
		}
		if err := p.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("registration: create user: %w", err)
		}
		return &user, nil
	case err != nil:
		return nil, fmt.Errorf("registration: find user: %w", err)
	}

	if user.RegistryParticipantID == "" && flow.RegistryParticipantID != "" {
		if err := p.db.WithContext(ctx).
			Model(&user).
			Update("registry_participant_id", flow.RegistryParticipantID).Error; err != nil {
			return nil, fmt.Errorf("registration: backfill registry id: %w", err)
		}
		user.RegistryParticipantID = flow.RegistryParticipantID
	}
	return &user, nil
}

// recordWaivers logs waiver flags and stores them on the organization's
// verification payload. Waivers are auditable output, not telemetry.
func (p *Pipeline) recordWaivers(ctx context.Context, invitation *models.Invitation, result *eligibility.Result) {
	p.audit.Info("eligibility waiver noted",
		zap.String("invitation_id", invitation.ID),
		zap.String("organization_id", invitation.ProviderOrganizationID),
		zap.Bool("org_waiver", result.HasOrgWaiver),
		zap.Bool("ao_waiver", result.HasAoWaiver))

	payload, err := json.Marshal(map[string]any{
		"org_waiver": result.HasOrgWaiver,
		"ao_waiver":  result.HasAoWaiver,
		"noted_at":   p.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.db.WithContext(ctx).
		Model(&models.ProviderOrganization{}).
		Where("id = ?", invitation.ProviderOrganizationID).
		Update("verification_data", payload).Error; err != nil {
		p.audit.Warn("waiver payload not persisted",
			zap.String("organization_id", invitation.ProviderOrganizationID), zap.Error(err))
	}
}

func (p *Pipeline) logSuccess(action string, invitation *models.Invitation) {
	metrics.InvitationFlowSteps.WithLabelValues(action, "success").Inc()
	p.audit.Info("invitation flow step completed",
		zap.String("action", action),
		zap.String("invitation_id", invitation.ID),
		zap.String("invitation_type", string(invitation.InvitationType)))
}

func (p *Pipeline) logRejection(action string, invitation *models.Invitation, reason string) {
	metrics.InvitationFlowSteps.WithLabelValues(action, "rejected").Inc()
	p.audit.Info("invitation flow step rejected",
		zap.String("action", action),
		zap.String("invitation_id", invitation.ID),
		zap.String("invitation_type", string(invitation.InvitationType)),
		zap.String("reason", reason))
}
