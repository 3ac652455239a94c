package audit

import (
	"strings"
	"testing"

	"github.com/signsure/signsure/internal/model"
)

func TestValidatePayload(t *testing.T) {
	if err := ValidatePayload(validPayload()); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
	anonymous := EventPayload{Kind: model.EventPasswordResetVerify, Outcome: model.OutcomeFailure, At: 1}
	if err := ValidatePayload(anonymous); err != nil {
		t.Fatalf("events without a user should be valid, got %v", err)
	}

	cases := []struct {
		name    string
		payload EventPayload
	}{
		{"unknown_kind", EventPayload{Kind: "sudo", Outcome: model.OutcomeSuccess, At: 1}},
		{"missing_kind", EventPayload{Outcome: model.OutcomeSuccess, At: 1}},
		{"unknown_outcome", EventPayload{Kind: model.EventLogin, Outcome: "maybe", At: 1}},
		{"user_id_too_long", EventPayload{Kind: model.EventLogin, UserID: strings.Repeat("u", 65), Outcome: model.OutcomeSuccess, At: 1}},
		{"missing_timestamp", EventPayload{Kind: model.EventLogin, Outcome: model.OutcomeSuccess}},
	}

	for _, tc := range cases {
		if err := ValidatePayload(tc.payload); err == nil {
			t.Errorf("expected error for %s", tc.name)
		}
	}
}
