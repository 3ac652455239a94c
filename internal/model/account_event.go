package model

import "time"

// Account event kinds.
const (
	EventRegister             = "register"
	EventLogin                = "login"
	EventLogout               = "logout"
	EventPasswordResetRequest = "password_reset_request"
	EventPasswordResetVerify  = "password_reset_verify"
	EventPasswordReset        = "password_reset"
)

// Account event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AccountEvent is an audit record of a security relevant account action.
// UserID is empty when the action named an unknown account.
type AccountEvent struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"` // stream entry ID, unique
	Kind       string    `json:"kind"`
	UserID     string    `json:"user_id,omitempty"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}
