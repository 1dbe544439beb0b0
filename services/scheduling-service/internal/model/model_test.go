package model

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
)

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusDeclined},
		{StatusAccepted, StatusCompleted},
		{StatusAccepted, StatusCancelled},
		{StatusAccepted, StatusRescheduled},
	}
	for _, tc := range cases {
		got, err := tc.from.Transition(tc.to)
		if err != nil || got != tc.to {
			t.Fatalf("%s -> %s: expected success, got %s (%v)", tc.from, tc.to, got, err)
		}
	}
}

func TestIllegalTransitionNamesBothStates(t *testing.T) {
	_, err := StatusPending.Complete()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.From != StatusPending || te.Attempted != StatusCompleted {
		t.Fatalf("unexpected transition error %+v", te)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusDeclined, StatusCompleted, StatusCancelled, StatusRescheduled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
		if _, err := s.Accept(); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> accepted should fail, got %v", s, err)
		}
	}
	if StatusPending.Terminal() || StatusAccepted.Terminal() {
		t.Fatal("pending and accepted are not terminal")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" Accepted "); err != nil || s != StatusAccepted {
		t.Fatalf("expected accepted, got %s (%v)", s, err)
	}
	if _, err := ParseStatus("booked"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRuleValidate(t *testing.T) {
	from := civil.Date{Year: 2030, Month: time.January, Day: 1}
	until := civil.Date{Year: 2029, Month: time.December, Day: 31}
	base := RecurringRule{
		Kind:          RuleWeekdays,
		Weekdays:      []time.Weekday{time.Monday},
		Window:        interval.Interval{Start: 540, End: 1020},
		Action:        ActionAvailable,
		EffectiveFrom: from,
		Active:        true,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}

	backwards := base
	backwards.EffectiveUntil = &until
	if err := backwards.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}

	empty := base
	empty.Window = interval.Interval{Start: 600, End: 600}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}

	monthly := base
	monthly.Kind = RuleMonthly
	monthly.MonthDays = []int{32}
	if err := monthly.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for day 32, got %v", err)
	}
}

func TestBookingIntervals(t *testing.T) {
	b := BookingRequest{
		Date:         civil.Date{Year: 2030, Month: time.January, Day: 7},
		Start:        600,
		Duration:     60,
		BufferBefore: 15,
		BufferAfter:  30,
	}
	if b.Slot() != (interval.Interval{Start: 600, End: 660}) {
		t.Fatalf("unexpected slot %v", b.Slot())
	}
	if b.Padded() != (interval.Interval{Start: 585, End: 690}) {
		t.Fatalf("unexpected padded interval %v", b.Padded())
	}
	start := b.StartsAt(time.UTC)
	if start.Hour() != 10 || start.Minute() != 0 || start.Day() != 7 {
		t.Fatalf("unexpected start instant %s", start)
	}
	if Weekday(b.Date) != time.Monday {
		t.Fatalf("expected Monday, got %s", Weekday(b.Date))
	}
}

func TestActorParty(t *testing.T) {
	b := BookingRequest{ProviderID: "artist-1", ClientID: "client-1"}
	cases := []struct {
		actor Actor
		want  bool
	}{
		{ProviderActor("artist-1"), true},
		{ProviderActor("artist-2"), false},
		{ClientActor("client-1"), true},
		{ClientActor("artist-1"), false},
		{ClientActor(""), false},
		{SystemActor, true},
	}
	for _, tc := range cases {
		if got := tc.actor.Party(b); got != tc.want {
			t.Fatalf("%+v party = %v, want %v", tc.actor, got, tc.want)
		}
	}
}
