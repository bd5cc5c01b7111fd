package codes

import (
	"errors"
	"fmt"
)

// Action is a review verdict a coder can apply to a code.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionUndo   Action = "undo"
)

// ErrNothingToUndo reports an undo on a code with no recorded decision.
var ErrNothingToUndo = errors.New("no decision to undo")

// ParseAction validates a wire-format action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAccept, ActionReject, ActionUndo:
		return Action(s), nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
	}
}

// Transition computes the decision that results from applying an action to
// the current decision. Accept and reject overwrite any prior decision, so
// a coder can flip a verdict directly without undoing first. Undo clears a
// recorded decision and fails when there is none.
func Transition(current Decision, action Action) (Decision, error) {
	switch action {
	case ActionAccept:
		return DecisionAccepted, nil
	case ActionReject:
		return DecisionRejected, nil
	case ActionUndo:
		if current == DecisionNone {
			return current, ErrNothingToUndo
		}
		return DecisionNone, nil
	default:
		return current, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
}
