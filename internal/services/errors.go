package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvitationNotFound indicates no invitation matches the organization
	// and invitation identifiers.
	ErrInvitationNotFound = errors.New("invitation: not found")
	// ErrCannotCancelAccepted signals an attempt to cancel an invitation that
	// was already accepted.
	ErrCannotCancelAccepted = errors.New("invitation: accepted invitations cannot be cancelled")
	// ErrNotRenewable signals a renew attempt on an invitation that is not an
	// expired authorized official invitation.
	ErrNotRenewable = errors.New("invitation: not renewable")
	// ErrRenewConflict signals that a concurrent renewal already claimed the
	// invitation.
	ErrRenewConflict = errors.New("invitation: already renewed")
)

// FieldError describes a single invariant violation on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-scoped violations raised at creation.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invitation: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
