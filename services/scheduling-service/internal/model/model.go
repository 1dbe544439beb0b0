package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
)

// Provider holds the per-artist settings the engine needs. All dates and
// minutes for a provider are local to Timezone.
type Provider struct {
	ID           string    `json:"provider_id"`
	Timezone     string    `json:"timezone"`
	BufferBefore int       `json:"buffer_before_minutes"`
	BufferAfter  int       `json:"buffer_after_minutes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p Provider) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: provider id required", ErrInvalidInput)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, p.Timezone)
	}
	if p.BufferBefore < 0 || p.BufferAfter < 0 || p.BufferBefore >= interval.DayMinutes || p.BufferAfter >= interval.DayMinutes {
		return fmt.Errorf("%w: buffers must be between 0 and %d minutes", ErrInvalidInput, interval.DayMinutes-1)
	}
	return nil
}

// Location falls back to UTC for an empty or unknown zone.
func (p Provider) Location() *time.Location {
	if loc, err := time.LoadLocation(p.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// BusinessHours is one weekday of the static weekly schedule. A closed day has Open false.
type BusinessHours struct {
	ProviderID string            `json:"provider_id"`
	Weekday    time.Weekday      `json:"weekday"`
	Open       bool              `json:"open"`
	Window     interval.Interval `json:"window"`
}

type RuleKind string

const (
	RuleWeekdays RuleKind = "weekdays"
	RuleDates    RuleKind = "dates"
	RuleMonthly  RuleKind = "monthly"
)

type RuleAction string

const (
	ActionAvailable RuleAction = "available"
	ActionBlocked   RuleAction = "blocked"
)

// RecurringRule layers an extra opening (or a block) over business hours on
// every matching day inside its effective range.
type RecurringRule struct {
	ID             string            `json:"id"`
	ProviderID     string            `json:"provider_id"`
	Name           string            `json:"name"`
	Kind           RuleKind          `json:"kind"`
	Weekdays       []time.Weekday    `json:"weekdays,omitempty"`
	Dates          []civil.Date      `json:"dates,omitempty"`
	MonthDays      []int             `json:"month_days,omitempty"`
	Window         interval.Interval `json:"window"`
	Action         RuleAction        `json:"action"`
	EffectiveFrom  civil.Date        `json:"effective_from"`
	EffectiveUntil *civil.Date       `json:"effective_until,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (r RecurringRule) Validate() error {
	if err := r.Window.Validate(); err != nil {
		return err
	}
	if !r.EffectiveFrom.IsValid() {
		return fmt.Errorf("%w: effective_from required", ErrInvalidInput)
	}
	if r.EffectiveUntil != nil && r.EffectiveUntil.Before(r.EffectiveFrom) {
		return fmt.Errorf("%w: effective_until %s before effective_from %s", ErrInvalidInput, r.EffectiveUntil, r.EffectiveFrom)
	}
	switch r.Action {
	case ActionAvailable, ActionBlocked:
	default:
		return fmt.Errorf("%w: unknown rule action %q", ErrInvalidInput, r.Action)
	}
	switch r.Kind {
	case RuleWeekdays:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("%w: weekdays rule needs at least one weekday", ErrInvalidInput)
		}
		for _, wd := range r.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidInput, wd)
			}
		}
	case RuleDates:
		if len(r.Dates) == 0 {
			return fmt.Errorf("%w: dates rule needs at least one date", ErrInvalidInput)
		}
		for _, d := range r.Dates {
			if !d.IsValid() {
				return fmt.Errorf("%w: invalid date %s", ErrInvalidInput, d)
			}
		}
	case RuleMonthly:
		if len(r.MonthDays) == 0 {
			return fmt.Errorf("%w: monthly rule needs at least one day of month", ErrInvalidInput)
		}
		for _, md := range r.MonthDays {
			if md < 1 || md > 31 {
				return fmt.Errorf("%w: day of month %d out of range", ErrInvalidInput, md)
			}
		}
	default:
		return fmt.Errorf("%w: unknown rule kind %q", ErrInvalidInput, r.Kind)
	}
	return nil
}

// Exception overrides every other layer for one date: either a full-day block
// or an authoritative replacement set of intervals.
type Exception struct {
	ID         string              `json:"id"`
	ProviderID string              `json:"provider_id"`
	Date       civil.Date          `json:"date"`
	FullDay    bool                `json:"full_day"`
	Intervals  []interval.Interval `json:"intervals,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func (e Exception) Validate() error {
	if !e.Date.IsValid() {
		return fmt.Errorf("%w: exception date required", ErrInvalidInput)
	}
	if e.FullDay && len(e.Intervals) > 0 {
		return fmt.Errorf("%w: full-day exception cannot carry intervals", ErrInvalidInput)
	}
	if !e.FullDay && len(e.Intervals) == 0 {
		return fmt.Errorf("%w: exception needs full_day or replacement intervals", ErrInvalidInput)
	}
	_, err := interval.Normalize(e.Intervals)
	return err
}

// BookingRequest is a client's ask for provider time. Buffers are copied from
// the provider at submission and pad the slot for neighbours only.
type BookingRequest struct {
	ID              string     `json:"id"`
	ProviderID      string     `json:"provider_id"`
	ClientID        string     `json:"client_id"`
	Date            civil.Date `json:"date"`
	Start           int        `json:"start_minute"`
	Duration        int        `json:"duration_minutes"`
	Note            string     `json:"note,omitempty"`
	Status          Status     `json:"status"`
	BufferBefore    int        `json:"buffer_before_minutes"`
	BufferAfter     int        `json:"buffer_after_minutes"`
	RescheduledFrom string     `json:"rescheduled_from,omitempty"`
	RescheduledTo   string     `json:"rescheduled_to,omitempty"`
	DeclineReason   string     `json:"decline_reason,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Slot is the reserved interval shown to the client.
func (b BookingRequest) Slot() interval.Interval {
	return interval.Interval{Start: b.Start, End: b.Start + b.Duration}
}

// Padded is the interval withheld from neighbouring bookings.
func (b BookingRequest) Padded() interval.Interval {
	return b.Slot().Pad(b.BufferBefore, b.BufferAfter)
}

// StartsAt and EndsAt resolve the local slot to instants in loc.
func (b BookingRequest) StartsAt(loc *time.Location) time.Time {
	return LocalTime(b.Date, b.Start, loc)
}

func (b BookingRequest) EndsAt(loc *time.Location) time.Time {
	return LocalTime(b.Date, b.Start+b.Duration, loc)
}

// LocalTime converts a provider-local date and minute of day into an instant.
func LocalTime(d civil.Date, minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, minute, 0, 0, loc)
}

// Weekday of a civil date; civil.Date has no calendar arithmetic for it.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

type Sender string

const (
	SenderClient   Sender = "client"
	SenderProvider Sender = "provider"
	SenderSystem   Sender = "system"
)

func ParseSender(s string) (Sender, error) {
	sender := Sender(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains([]Sender{SenderClient, SenderProvider, SenderSystem}, sender) {
		return sender, nil
	}
	return "", fmt.Errorf("%w: unknown sender %q", ErrInvalidInput, s)
}

// Actor is the party performing a booking action. System actors skip the
// ownership check.
type Actor struct {
	Role Sender
	ID   string
}

var SystemActor = Actor{Role: SenderSystem}

func ClientActor(id string) Actor   { return Actor{Role: SenderClient, ID: id} }
func ProviderActor(id string) Actor { return Actor{Role: SenderProvider, ID: id} }

// Party reports whether a may see and act on b at all.
func (a Actor) Party(b BookingRequest) bool {
	switch a.Role {
	case SenderSystem:
		return true
	case SenderProvider:
		return a.ID != "" && a.ID == b.ProviderID
	case SenderClient:
		return a.ID != "" && a.ID == b.ClientID
	}
	return false
}

// BookingMessage is one entry of the append-only thread on a booking. Seq is
// dense and starts at 1 per booking.
type BookingMessage struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Seq       int       `json:"seq"`
	Sender    Sender    `json:"sender"`
	AuthorID  string    `json:"author_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
