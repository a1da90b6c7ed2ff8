package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chartwellhealth/provider-portal/internal/auth"
	"github.com/chartwellhealth/provider-portal/internal/middleware"
	"github.com/chartwellhealth/provider-portal/internal/models"
	"github.com/chartwellhealth/provider-portal/internal/registration"
	"github.com/chartwellhealth/provider-portal/internal/services"
	appErrors "github.com/chartwellhealth/provider-portal/pkg/errors"
	"github.com/chartwellhealth/provider-portal/pkg/response"
)

const signInCookieName = "portal_token"

// InvitationHandler exposes the invitation management and verification flow
// endpoints.
type InvitationHandler struct {
	pipeline      *registration.Pipeline
	invitations   *services.InvitationService
	tokens        *auth.JWTService
	testEndpoints bool
}

// NewInvitationHandler constructs the invitation handler.
func NewInvitationHandler(
	pipeline *registration.Pipeline,
	invitations *services.InvitationService,
	tokens *auth.JWTService,
	testEndpoints bool,
) (*InvitationHandler, error) {
	if pipeline == nil || invitations == nil || tokens == nil {
		return nil, errors.New("invitation handler: all dependencies are required")
	}
	return &InvitationHandler{
		pipeline:      pipeline,
		invitations:   invitations,
		tokens:        tokens,
		testEndpoints: testEndpoints,
	}, nil
}

type createInvitationRequest struct {
	InvitationType    string `json:"invitation_type" validate:"required,oneof=authorized_official credential_delegate"`
	InvitedByID       string `json:"invited_by_id"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	Email             string `json:"email" validate:"required,email"`
	EmailConfirmation string `json:"email_confirmation" validate:"required"`
	Phone             string `json:"phone" validate:"omitempty,usphone"`
}

// Create handles POST /portal/organizations/:org_id/invitations.
func (h *InvitationHandler) Create(c *gin.Context) {
	var req createInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	orgID := c.Param("org_id")
	var (
		invitation *models.Invitation
		err        error
	)
	if req.InvitationType == string(models.CredentialDelegate) {
		invitation, err = h.invitations.CreateCD(requestContext(c), orgID, services.CreateCDInput{
			InvitedByID:       req.InvitedByID,
			GivenName:         req.GivenName,
			FamilyName:        req.FamilyName,
			Email:             req.Email,
			EmailConfirmation: req.EmailConfirmation,
			Phone:             req.Phone,
		})
	} else {
		invitation, err = h.invitations.CreateAO(requestContext(c), orgID, services.CreateAOInput{
			GivenName:         req.GivenName,
			FamilyName:        req.FamilyName,
			Email:             req.Email,
			EmailConfirmation: req.EmailConfirmation,
		})
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, invitation)
}

// Cancel handles POST /portal/organizations/:org_id/invitations/:invitation_id/cancel.
func (h *InvitationHandler) Cancel(c *gin.Context) {
	err := h.invitations.Cancel(requestContext(c), c.Param("org_id"), c.Param("invitation_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": string(models.InvitationCancelled)})
}

// Show handles GET /portal/organizations/:org_id/invitations/:invitation_id.
func (h *InvitationHandler) Show(c *gin.Context) {
	result, err := h.pipeline.Show(requestContext(c), c.Param("org_id"), c.Param("invitation_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	payload := gin.H{
		"invitation_type":    result.Invitation.InvitationType,
		"invited_full_name":  result.Invitation.InvitedFullName(),
		"invited_email":      result.Invitation.InvitedEmail,
		"organization_name":  result.Organization.Name,
		"expires_in_hours":   result.ExpiresInHours,
		"expires_in_minutes": result.ExpiresInMinutes,
	}
	if name := result.Invitation.InvitedByFullName(); name != "" {
		payload["invited_by_full_name"] = name
	}
	response.Success(c, http.StatusOK, payload)
}

// Login handles GET /portal/organizations/:org_id/invitations/:invitation_id/login.
func (h *InvitationHandler) Login(c *gin.Context) {
	url, err := h.pipeline.Login(requestContext(c), middleware.SessionID(c),
		c.Param("org_id"), c.Param("invitation_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Redirect(c, url)
}

// Callback handles GET /portal/auth/callback from the identity provider.
func (h *InvitationHandler) Callback(c *gin.Context) {
	path, err := h.pipeline.Callback(requestContext(c), middleware.SessionID(c),
		c.Query("state"), c.Query("code"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Redirect(c, path)
}

// Accept handles POST /portal/organizations/:org_id/invitations/:invitation_id/accept.
func (h *InvitationHandler) Accept(c *gin.Context) {
	result, err := h.pipeline.Accept(requestContext(c), middleware.SessionID(c),
		c.Param("org_id"), c.Param("invitation_id"))
	h.renderStep(c, result, err)
}

type confirmCDRequest struct {
	VerificationCode string `json:"verification_code" validate:"required,len=6"`
}

// ConfirmCD handles POST /portal/organizations/:org_id/invitations/:invitation_id/confirm_cd.
func (h *InvitationHandler) ConfirmCD(c *gin.Context) {
	var req confirmCDRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.pipeline.ConfirmCD(requestContext(c), middleware.SessionID(c),
		c.Param("org_id"), c.Param("invitation_id"), req.VerificationCode)
	h.renderStep(c, result, err)
}

// Confirm handles POST /portal/organizations/:org_id/invitations/:invitation_id/confirm.
func (h *InvitationHandler) Confirm(c *gin.Context) {
	result, err := h.pipeline.Confirm(requestContext(c), middleware.SessionID(c),
		c.Param("org_id"), c.Param("invitation_id"))
	h.renderStep(c, result, err)
}

// Register handles POST /portal/organizations/:org_id/invitations/:invitation_id/register.
func (h *InvitationHandler) Register(c *gin.Context) {
	result, step, err := h.pipeline.Register(requestContext(c), middleware.SessionID(c),
		c.Param("org_id"), c.Param("invitation_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	if step != nil && step.Redirect != "" {
		response.Redirect(c, step.Redirect)
		return
	}

	token, expiresAt, err := h.tokens.IssueSignInToken(result.User.ID, result.User.Email, result.User.FullName())
	if err != nil {
		h.renderError(c, err)
		return
	}
	maxAge := int(time.Until(expiresAt).Seconds())
	c.SetCookie(signInCookieName, token, maxAge, "/", "", false, true)

	response.Success(c, http.StatusOK, gin.H{
		"user_id":         result.User.ID,
		"full_name":       result.User.FullName(),
		"invitation_type": result.Invitation.InvitationType,
	})
}

// Renew handles POST /portal/organizations/:org_id/invitations/:invitation_id/renew.
// Success or failure both redirect back to the show step with a notice.
func (h *InvitationHandler) Renew(c *gin.Context) {
	orgID := c.Param("org_id")
	invitationID := c.Param("invitation_id")

	replacement, err := h.pipeline.Renew(requestContext(c), orgID, invitationID)
	if err != nil {
		if errors.Is(err, services.ErrInvitationNotFound) {
			h.renderError(c, err)
			return
		}
		response.Redirect(c, registration.ShowPath(orgID, invitationID)+"?notice=renew_failed")
		return
	}

	response.Redirect(c, registration.ShowPath(orgID, replacement.ID)+"?notice=renewed")
}

type setTokenRequest struct {
	AccessToken string    `json:"access_token" validate:"required"`
	ExpiresAt   time.Time `json:"expires_at" validate:"required"`
}

// SetIdPToken handles the test-only POST set_idp_token route. It is only
// registered when test endpoints are enabled in configuration.
func (h *InvitationHandler) SetIdPToken(c *gin.Context) {
	var req setTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.pipeline.SetToken(requestContext(c), middleware.SessionID(c),
		c.Param("invitation_id"), req.AccessToken, req.ExpiresAt)
	if err != nil {
		h.renderError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "token_set"})
}

func (h *InvitationHandler) renderStep(c *gin.Context, result *registration.StepResult, err error) {
	if err != nil {
		h.renderError(c, err)
		return
	}
	if result.Redirect != "" {
		response.Redirect(c, result.Redirect)
		return
	}

	payload := gin.H{"step": result.Step}
	if result.GivenName != "" || result.FamilyName != "" {
		payload["given_name"] = result.GivenName
		payload["family_name"] = result.FamilyName
	}
	response.Success(c, http.StatusOK, payload)
}

func (h *InvitationHandler) renderError(c *gin.Context, err error) {
	var unacceptable *registration.UnacceptableError
	if errors.As(err, &unacceptable) {
		response.Error(c, appErrors.NewForbidden(
			strings.ToUpper(string(unacceptable.Reason)),
			unacceptableMessage(unacceptable.Reason)))
		return
	}

	var validation *services.ValidationError
	if errors.As(err, &validation) {
		response.Error(c, appErrors.NewBadRequest(validation.Error()))
		return
	}

	switch {
	case errors.Is(err, services.ErrInvitationNotFound):
		response.Error(c, appErrors.ErrNotFound)
	case errors.Is(err, services.ErrCannotCancelAccepted):
		response.Error(c, appErrors.New("CANNOT_CANCEL_ACCEPTED",
			"Accepted invitations cannot be cancelled", http.StatusUnprocessableEntity))
	case errors.Is(err, registration.ErrDuplicateLink):
		response.Error(c, appErrors.New("DUPLICATE_LINK",
			"This invitation has already been used to register", http.StatusConflict))
	default:
		response.Error(c, err)
	}
}

func unacceptableMessage(reason models.UnacceptableReason) string {
	switch reason {
	case models.ReasonAoRenewed:
		return "This invitation has been replaced by a newer one"
	case models.ReasonAoAccepted, models.ReasonCdAccepted:
		return "This invitation has already been accepted"
	case models.ReasonAoExpired:
		return "This invitation has expired and can be renewed"
	case models.ReasonCdExpired:
		return "This invitation has expired"
	default:
		return "This invitation is no longer valid"
	}
}
