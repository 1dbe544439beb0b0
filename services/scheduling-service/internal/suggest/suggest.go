// Package suggest proposes candidate slots of a requested length from free
// availability. Results are advisory snapshots, not reservations.
package suggest

import (
	"context"
	"fmt"
	"slices"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

type Slot struct {
	Date   civil.Date        `json:"date"`
	Window interval.Interval `json:"window"`
}

type Request struct {
	From, To  civil.Date
	Duration  int
	Preferred *civil.Date
	// Limit caps the result; zero means no cap.
	Limit   int
	Options conflict.Options
	// NotBefore drops slots starting earlier than this local date and minute.
	NotBefore *Moment
	// BufferBefore and BufferAfter are the buffers a booking made from a
	// suggestion will carry; neighbours are kept clear of them.
	BufferBefore, BufferAfter int
}

// Moment is a provider-local date and minute of day.
type Moment struct {
	Date   civil.Date
	Minute int
}

func (r Request) validate() error {
	if r.Duration <= 0 || r.Duration > interval.DayMinutes {
		return fmt.Errorf("%w: duration must be between 1 and %d minutes", model.ErrInvalidInterval, interval.DayMinutes)
	}
	if r.BufferBefore < 0 || r.BufferAfter < 0 {
		return fmt.Errorf("%w: buffers must not be negative", model.ErrInvalidInput)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", model.ErrInvalidInput)
	}
	return availability.ValidateRange(r.From, r.To)
}

// Rank emits the earliest-starting slot of exactly duration from every free
// interval long enough to hold it. Slots on the preferred date come first when
// that date has any; the rest follow by date then start time.
func Rank(days []availability.Day, req Request) []Slot {
	var preferred, rest []Slot
	for _, day := range days {
		for _, free := range day.Intervals {
			start := free.Start
			if nb := req.NotBefore; nb != nil {
				if day.Date.Before(nb.Date) {
					break
				}
				if day.Date == nb.Date && start < nb.Minute {
					start = nb.Minute
				}
			}
			if free.End-start < req.Duration {
				continue
			}
			s := Slot{Date: day.Date, Window: interval.Interval{Start: start, End: start + req.Duration}}
			if req.Preferred != nil && day.Date == *req.Preferred {
				preferred = append(preferred, s)
			} else {
				rest = append(rest, s)
			}
		}
	}

	byDateThenStart := func(a, b Slot) int {
		if a.Date != b.Date {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		return a.Window.Start - b.Window.Start
	}
	slices.SortFunc(preferred, byDateThenStart)
	slices.SortFunc(rest, byDateThenStart)

	out := append(preferred, rest...)
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	if out == nil {
		out = []Slot{}
	}
	return out
}

// Suggester reads free time through a conflict engine. It takes no lock.
type Suggester struct {
	engine *conflict.Engine
}

func New(engine *conflict.Engine) *Suggester {
	return &Suggester{engine: engine}
}

func (s *Suggester) Suggest(ctx context.Context, providerID string, req Request) ([]Slot, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	days, err := s.engine.BookableRange(ctx, providerID, req.From, req.To, req.BufferBefore, req.BufferAfter, req.Options)
	if err != nil {
		return nil, err
	}
	return Rank(days, req), nil
}
