// Package session holds the server-side session state machine. A session is
// addressed by an opaque identifier carried in a cookie; all state lives in
// the store, never in the client.
package session

import (
	"errors"

	"github.com/bpajor/pay-man-sys/internal/models"
	"github.com/google/uuid"
)

// State is the authentication state of a session. Transitions go through the
// methods below so that illegal combinations are unrepresentable: a session
// is never both authenticated and pending a second factor, and reset staging
// exists only while no authenticated identity does.
type State string

const (
	StateAnonymous                State = "anonymous"
	StatePendingSecondFactor      State = "pending_2fa"
	StateAuthenticated            State = "authenticated"
	StateResetPendingSecondFactor State = "reset_pending_2fa"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Identity is the snapshot taken at credential verification. It is captured
// before the second factor resolves so the second-factor check knows which
// account it is validating.
type Identity struct {
	UserID      uuid.UUID          `json:"user_id"`
	Email       string             `json:"email"`
	AccountType models.AccountType `json:"account_type"`
	CompanyID   *uuid.UUID         `json:"company_id,omitempty"`
}

type Session struct {
	ID       uuid.UUID `json:"id"`
	State    State     `json:"state"`
	Identity *Identity `json:"identity,omitempty"`

	// Staging for the reset-time second-factor path. Populated only while
	// no authenticated identity exists. The token hash is carried so the
	// final update can recheck that the consumed token is still the one on
	// file, not one superseded by a newer reset request.
	PendingResetEmail        string `json:"pending_reset_email,omitempty"`
	PendingResetPasswordHash string `json:"pending_reset_password_hash,omitempty"`
	PendingResetTokenHash    string `json:"pending_reset_token_hash,omitempty"`

	// Staging for second-factor enrollment; persisted to the credential
	// store only after the user proves possession of the secret.
	PendingTwoFASecret string `json:"pending_two_fa_secret,omitempty"`

	// Two non-overlapping CSRF secret scopes. The unauthenticated secret is
	// discarded at the instant the authenticated one is issued.
	UnauthCSRFSecret string `json:"unauth_csrf_secret,omitempty"`
	AuthCSRFSecret   string `json:"auth_csrf_secret,omitempty"`
}

// NewAnonymous creates a fresh session with a new opaque identifier.
func NewAnonymous() *Session {
	return &Session{
		ID:    uuid.New(),
		State: StateAnonymous,
	}
}

// IsAuthenticated reports full authentication (second factor resolved or not
// enrolled).
func (s *Session) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.Identity != nil
}

// PendingSecondFactor reports "password verified, second factor outstanding".
func (s *Session) PendingSecondFactor() bool {
	return s.State == StatePendingSecondFactor
}

// ActiveCSRFSecret returns the secret for the session's current scope.
func (s *Session) ActiveCSRFSecret() string {
	if s.IsAuthenticated() {
		return s.AuthCSRFSecret
	}
	return s.UnauthCSRFSecret
}

// BeginSecondFactor records a verified password with the second factor still
// outstanding. The identity snapshot is taken now.
func (s *Session) BeginSecondFactor(identity Identity) error {
	if s.State != StateAnonymous {
		return ErrInvalidTransition
	}
	s.State = StatePendingSecondFactor
	s.Identity = &identity
	return nil
}

// Authenticate promotes the session to fully authenticated, either directly
// from anonymous (no second factor enrolled) or from the pending-2FA state.
// Promotion rotates the CSRF scope: the authenticated secret is issued here
// and the unauthenticated one is discarded.
func (s *Session) Authenticate(identity Identity, authCSRFSecret string) error {
	switch s.State {
	case StateAnonymous, StatePendingSecondFactor:
	default:
		return ErrInvalidTransition
	}
	s.State = StateAuthenticated
	s.Identity = &identity
	s.AuthCSRFSecret = authCSRFSecret
	s.UnauthCSRFSecret = ""
	s.PendingResetEmail = ""
	s.PendingResetPasswordHash = ""
	s.PendingResetTokenHash = ""
	return nil
}

// StageReset stashes a verified-but-unapplied password reset pending the
// second factor. Only a session with no authenticated identity may hold
// reset staging.
func (s *Session) StageReset(email, newPasswordHash, tokenHash string) error {
	if s.State != StateAnonymous || s.Identity != nil {
		return ErrInvalidTransition
	}
	s.State = StateResetPendingSecondFactor
	s.PendingResetEmail = email
	s.PendingResetPasswordHash = newPasswordHash
	s.PendingResetTokenHash = tokenHash
	return nil
}

// AbandonReset drops staged reset state and returns the session to
// anonymous. Used when the client walks away from the reset flow, e.g. back
// to the login form.
func (s *Session) AbandonReset() {
	if s.State != StateResetPendingSecondFactor {
		return
	}
	s.State = StateAnonymous
	s.PendingResetEmail = ""
	s.PendingResetPasswordHash = ""
	s.PendingResetTokenHash = ""
}

// ResetStaging returns the staged reset fields, or ok=false when the session
// is not in the reset-pending state.
func (s *Session) ResetStaging() (email, passwordHash, tokenHash string, ok bool) {
	if s.State != StateResetPendingSecondFactor {
		return "", "", "", false
	}
	return s.PendingResetEmail, s.PendingResetPasswordHash, s.PendingResetTokenHash, true
}
