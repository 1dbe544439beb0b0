// Package conflict subtracts booked time from availability and checks
// candidate bookings against it.
package conflict

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

// Source adds booking reads to the availability layers.
type Source interface {
	availability.Source
	ListBookings(ctx context.Context, providerID string, from, to civil.Date) ([]model.BookingRequest, error)
}

type Options struct {
	// ExcludeOtherPending drops Pending holds so only Accepted bookings count as busy.
	ExcludeOtherPending bool
	// IgnoreBookingID leaves one booking out, e.g. the one being accepted or moved.
	IgnoreBookingID string
}

// Candidate is a slot someone wants to book, with the buffers it will carry.
type Candidate struct {
	Slot         interval.Interval
	BufferBefore int
	BufferAfter  int
}

func (o Options) counts(b model.BookingRequest) bool {
	if b.ID != "" && b.ID == o.IgnoreBookingID {
		return false
	}
	switch b.Status {
	case model.StatusAccepted:
		return true
	case model.StatusPending:
		return !o.ExcludeOtherPending
	}
	return false
}

// Busy returns the padded intervals of every booking that holds time under opts.
func Busy(bookings []model.BookingRequest, opts Options) []interval.Interval {
	var busy []interval.Interval
	for _, b := range bookings {
		if opts.counts(b) {
			busy = append(busy, b.Padded())
		}
	}
	return busy
}

// FreeSlots is availability minus the padded busy intervals.
func FreeSlots(avail []interval.Interval, bookings []model.BookingRequest, opts Options) ([]interval.Interval, error) {
	free, err := interval.Subtract(avail, Busy(bookings, opts))
	if err != nil {
		return nil, err
	}
	if free == nil {
		free = []interval.Interval{}
	}
	return free, nil
}

// Bookable returns the windows inside which a candidate carrying the given
// buffers fits. Each existing booking is widened by its own buffers plus the
// candidate's opposite buffers so that padded intervals never overlap. With
// zero buffers this is exactly FreeSlots.
func Bookable(avail []interval.Interval, bookings []model.BookingRequest, bufferBefore, bufferAfter int, opts Options) ([]interval.Interval, error) {
	var blocked []interval.Interval
	for _, b := range bookings {
		if opts.counts(b) {
			blocked = append(blocked, b.Slot().Pad(b.BufferBefore+bufferAfter, b.BufferAfter+bufferBefore))
		}
	}
	return interval.Subtract(avail, blocked)
}

// Validate fails with model.ErrConflict unless the candidate slot lies inside
// a single bookable window.
func Validate(avail []interval.Interval, bookings []model.BookingRequest, c Candidate, opts Options) error {
	if err := c.Slot.Validate(); err != nil {
		return err
	}
	windows, err := Bookable(avail, bookings, c.BufferBefore, c.BufferAfter, opts)
	if err != nil {
		return err
	}
	if !interval.Within(windows, c.Slot) {
		return fmt.Errorf("%w: %s is not free", model.ErrConflict, c.Slot)
	}
	return nil
}

// Engine runs the pure checks against a Source.
type Engine struct {
	src      Source
	resolver *availability.Resolver
}

func NewEngine(src Source) *Engine {
	return &Engine{src: src, resolver: availability.NewResolver(src)}
}

func (e *Engine) Resolver() *availability.Resolver { return e.resolver }

func (e *Engine) FreeSlots(ctx context.Context, providerID string, date civil.Date, opts Options) ([]interval.Interval, error) {
	avail, bookings, err := e.load(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return FreeSlots(avail, bookings, opts)
}

// FreeRange computes FreeSlots for every date in [from, to] with one read per layer.
func (e *Engine) FreeRange(ctx context.Context, providerID string, from, to civil.Date, opts Options) ([]availability.Day, error) {
	return e.perDay(ctx, providerID, from, to, func(avail []interval.Interval, bookings []model.BookingRequest) ([]interval.Interval, error) {
		return FreeSlots(avail, bookings, opts)
	})
}

// BookableRange computes Bookable for every date in [from, to]: the windows a
// new booking carrying bufferBefore/bufferAfter can be placed in.
func (e *Engine) BookableRange(ctx context.Context, providerID string, from, to civil.Date, bufferBefore, bufferAfter int, opts Options) ([]availability.Day, error) {
	return e.perDay(ctx, providerID, from, to, func(avail []interval.Interval, bookings []model.BookingRequest) ([]interval.Interval, error) {
		windows, err := Bookable(avail, bookings, bufferBefore, bufferAfter, opts)
		if windows == nil && err == nil {
			windows = []interval.Interval{}
		}
		return windows, err
	})
}

func (e *Engine) perDay(ctx context.Context, providerID string, from, to civil.Date, fn func([]interval.Interval, []model.BookingRequest) ([]interval.Interval, error)) ([]availability.Day, error) {
	days, err := e.resolver.ResolveRange(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	bookings, err := e.src.ListBookings(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	byDate := map[civil.Date][]model.BookingRequest{}
	for _, b := range bookings {
		byDate[b.Date] = append(byDate[b.Date], b)
	}
	for i, d := range days {
		set, err := fn(d.Intervals, byDate[d.Date])
		if err != nil {
			return nil, err
		}
		days[i].Intervals = set
	}
	return days, nil
}

func (e *Engine) Validate(ctx context.Context, providerID string, date civil.Date, c Candidate, opts Options) error {
	if err := c.Slot.Validate(); err != nil {
		return err
	}
	avail, bookings, err := e.load(ctx, providerID, date)
	if err != nil {
		return err
	}
	return Validate(avail, bookings, c, opts)
}

func (e *Engine) load(ctx context.Context, providerID string, date civil.Date) ([]interval.Interval, []model.BookingRequest, error) {
	avail, err := e.resolver.Resolve(ctx, providerID, date)
	if err != nil {
		return nil, nil, err
	}
	bookings, err := e.src.ListBookings(ctx, providerID, date, date)
	if err != nil {
		return nil, nil, fmt.Errorf("load bookings: %w", err)
	}
	return avail, bookings, nil
}
