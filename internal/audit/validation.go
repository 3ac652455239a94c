package audit

import (
	"fmt"

	"github.com/signsure/signsure/internal/model"
)

const maxUserIDLength = 64

var knownKinds = map[string]bool{
	model.EventRegister:             true,
	model.EventLogin:                true,
	model.EventLogout:               true,
	model.EventPasswordResetRequest: true,
	model.EventPasswordResetVerify:  true,
	model.EventPasswordReset:        true,
}

// ValidatePayload checks a decoded stream payload before it is stored.
func ValidatePayload(payload EventPayload) error {
	if !knownKinds[payload.Kind] {
		return fmt.Errorf("unknown kind %q", payload.Kind)
	}
	if payload.Outcome != model.OutcomeSuccess && payload.Outcome != model.OutcomeFailure {
		return fmt.Errorf("unknown outcome %q", payload.Outcome)
	}
	if len(payload.UserID) > maxUserIDLength {
		return fmt.Errorf("user_id too long")
	}
	if payload.At <= 0 {
		return fmt.Errorf("timestamp must be set")
	}
	return nil
}
