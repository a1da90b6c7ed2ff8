package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chartwellhealth/provider-portal/internal/cache"
)

// Stage is the typed progress marker for one invitation flow. The zero value
// means the invitation has only been shown.
type Stage int

const (
	StageShown Stage = iota
	StageIdentityVerified
	StageVerificationComplete
)

// FlowState is the ephemeral per-invitation session state. It is keyed by
// (session id, invitation id) so concurrent flows never share state.
type FlowState struct {
	Stage Stage `json:"stage"`

	// Nonce and State guard the IdP login round trip.
	Nonce string `json:"nonce,omitempty"`
	State string `json:"state,omitempty"`

	// AccessToken is the IdP token established after login.
	AccessToken    string    `json:"access_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`

	// Captured at the identity match step for display.
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`

	// RegistryParticipantID is the enrollment identifier matched during the
	// eligibility step, consumed at registration.
	RegistryParticipantID string `json:"registry_participant_id,omitempty"`
}

// TokenValid reports whether the flow holds a usable IdP token.
func (f *FlowState) TokenValid(now time.Time) bool {
	return f.AccessToken != "" && now.Before(f.TokenExpiresAt)
}

// LoginState records an in-flight IdP redirect so the callback can be tied
// back to the invitation that initiated it.
type LoginState struct {
	State          string `json:"state"`
	Nonce          string `json:"nonce"`
	OrganizationID string `json:"organization_id"`
	InvitationID   string `json:"invitation_id"`
}

// SessionStore persists flow state in the configured cache backend with a
// bounded lifetime.
type SessionStore struct {
	store cache.Store
	ttl   time.Duration
}

// NewSessionStore wraps a cache.Store for flow session state.
func NewSessionStore(store cache.Store, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{store: store, ttl: ttl}
}

func flowKey(sessionID, invitationID string) string {
	return fmt.Sprintf("flow:%s:%s", sessionID, invitationID)
}

func loginKey(sessionID string) string {
	return fmt.Sprintf("login:%s", sessionID)
}

// Load returns the flow state for one invitation, or a fresh zero state when
// none exists.
func (s *SessionStore) Load(ctx context.Context, sessionID, invitationID string) (*FlowState, error) {
	payload, ok, err := s.store.Get(ctx, flowKey(sessionID, invitationID))
	if err != nil {
		return nil, fmt.Errorf("session: load flow state: %w", err)
	}
	if !ok {
		return &FlowState{}, nil
	}

	var state FlowState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("session: decode flow state: %w", err)
	}
	return &state, nil
}

// Save persists the flow state, refreshing its lifetime.
func (s *SessionStore) Save(ctx context.Context, sessionID, invitationID string, state *FlowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: encode flow state: %w", err)
	}
	if err := s.store.Set(ctx, flowKey(sessionID, invitationID), payload, s.ttl); err != nil {
		return fmt.Errorf("session: save flow state: %w", err)
	}
	return nil
}

// Clear removes the flow state once registration completes or the flow is
// abandoned.
func (s *SessionStore) Clear(ctx context.Context, sessionID, invitationID string) error {
	return s.store.Delete(ctx, flowKey(sessionID, invitationID))
}

// SaveLogin records the pending IdP redirect for the session.
func (s *SessionStore) SaveLogin(ctx context.Context, sessionID string, login *LoginState) error {
	payload, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("session: encode login state: %w", err)
	}
	if err := s.store.Set(ctx, loginKey(sessionID), payload, s.ttl); err != nil {
		return fmt.Errorf("session: save login state: %w", err)
	}
	return nil
}

// LoadLogin returns the pending IdP redirect for the session, if any.
func (s *SessionStore) LoadLogin(ctx context.Context, sessionID string) (*LoginState, bool, error) {
	payload, ok, err := s.store.Get(ctx, loginKey(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("session: load login state: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var login LoginState
	if err := json.Unmarshal(payload, &login); err != nil {
		return nil, false, fmt.Errorf("session: decode login state: %w", err)
	}
	return &login, true, nil
}

// ClearLogin removes the pending IdP redirect once consumed.
func (s *SessionStore) ClearLogin(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, loginKey(sessionID))
}
