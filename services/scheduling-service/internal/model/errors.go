package model

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
)

var (
	// ErrConflict means the requested interval is not free or the booking lost a race to another one.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition means the booking state machine does not allow the requested move.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidInterval   = interval.ErrInvalidInterval
	ErrNotFound          = errors.New("not found")
	// ErrRuleOverlapIgnored is informational: overlapping rules are unioned, never rejected.
	ErrRuleOverlapIgnored = errors.New("rule overlap ignored")
	ErrInvalidInput       = errors.New("invalid input")
	// ErrForbidden means the caller is a party to the booking but may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrTooLate rejects cancelling or rescheduling an appointment that already started.
	ErrTooLate = errors.New("appointment already started")
	// ErrNotDue rejects completing an appointment that has not ended yet.
	ErrNotDue = errors.New("appointment not finished")
)

// TransitionError names the current and attempted state of a rejected transition.
type TransitionError struct {
	From      Status
	Attempted Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.Attempted)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// OverlapNotice reports that a saved rule shares time with another active rule.
type OverlapNotice struct {
	RuleID  string `json:"rule_id"`
	OtherID string `json:"other_rule_id"`
}

func (n OverlapNotice) Error() string {
	return fmt.Sprintf("rule %s overlaps rule %s; windows are unioned", n.RuleID, n.OtherID)
}

func (n OverlapNotice) Unwrap() error { return ErrRuleOverlapIgnored }
