package codes

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name    string
		current Decision
		action  Action
		want    Decision
	}{
		{"accept from none", DecisionNone, ActionAccept, DecisionAccepted},
		{"reject from none", DecisionNone, ActionReject, DecisionRejected},
		{"flip accepted to rejected", DecisionAccepted, ActionReject, DecisionRejected},
		{"flip rejected to accepted", DecisionRejected, ActionAccept, DecisionAccepted},
		{"undo accepted", DecisionAccepted, ActionUndo, DecisionNone},
		{"undo rejected", DecisionRejected, ActionUndo, DecisionNone},
		{"accept is idempotent", DecisionAccepted, ActionAccept, DecisionAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.current, tc.action)
			if err != nil {
				t.Fatalf("transition failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransition_UndoWithoutDecision(t *testing.T) {
	if _, err := Transition(DecisionNone, ActionUndo); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"accept", "reject", "undo"} {
		if _, err := ParseAction(s); err != nil {
			t.Errorf("ParseAction(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseAction("approve"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
