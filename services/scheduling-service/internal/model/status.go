package model

import (
	"fmt"
	"slices"
	"strings"
)

// Status is the closed set of booking request states.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAccepted    Status = "accepted"
	StatusDeclined    Status = "declined"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusDeclined},
	StatusAccepted: {StatusCompleted, StatusCancelled, StatusRescheduled},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAccepted, StatusDeclined, StatusRescheduled, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Holds reports whether a booking in this state occupies provider time.
func (s Status) Holds() bool {
	return s == StatusPending || s == StatusAccepted
}

// Transition returns to when the move from s is legal, or a *TransitionError.
func (s Status) Transition(to Status) (Status, error) {
	if slices.Contains(transitions[s], to) {
		return to, nil
	}
	return s, &TransitionError{From: s, Attempted: to}
}

func (s Status) Accept() (Status, error)     { return s.Transition(StatusAccepted) }
func (s Status) Decline() (Status, error)    { return s.Transition(StatusDeclined) }
func (s Status) Reschedule() (Status, error) { return s.Transition(StatusRescheduled) }
func (s Status) Complete() (Status, error)   { return s.Transition(StatusCompleted) }
func (s Status) Cancel() (Status, error)     { return s.Transition(StatusCancelled) }
