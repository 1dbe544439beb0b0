package booking

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/suggest"
)

// Reads below take no lock. Their results are snapshots that a concurrent
// write may invalidate immediately.

func validateRange(from, to civil.Date) error {
	return availability.ValidateRange(from, to)
}

func (e *Engine) Resolve(ctx context.Context, providerID string, date civil.Date) ([]interval.Interval, error) {
	return e.conflicts.Resolver().Resolve(ctx, providerID, date)
}

func (e *Engine) ResolveRange(ctx context.Context, providerID string, from, to civil.Date) ([]availability.Day, error) {
	return e.conflicts.Resolver().ResolveRange(ctx, providerID, from, to)
}

// FreeSlots is availability minus padded Pending and Accepted bookings, or
// Accepted only when opts.ExcludeOtherPending is set.
func (e *Engine) FreeSlots(ctx context.Context, providerID string, date civil.Date, opts conflict.Options) ([]interval.Interval, error) {
	return e.conflicts.FreeSlots(ctx, providerID, date, opts)
}

func (e *Engine) FreeRange(ctx context.Context, providerID string, from, to civil.Date, opts conflict.Options) ([]availability.Day, error) {
	return e.conflicts.FreeRange(ctx, providerID, from, to, opts)
}

// Suggest ranks candidate slots. Slots that already started in provider time
// are never offered, and every slot leaves room for the provider's current
// buffers so that submitting it passes validation.
func (e *Engine) Suggest(ctx context.Context, providerID string, req suggest.Request) ([]suggest.Slot, error) {
	p, err := e.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	now := e.localNow(p)
	req.NotBefore = &now
	req.BufferBefore, req.BufferAfter = p.BufferBefore, p.BufferAfter
	return e.suggester.Suggest(ctx, providerID, req)
}

// SlotGrid lists bookable start times on a fixed step for one date. Each
// start leaves room for the provider's current buffers around neighbours.
func (e *Engine) SlotGrid(ctx context.Context, providerID string, date civil.Date, duration, step int) ([]interval.Interval, error) {
	if duration <= 0 || duration > interval.DayMinutes {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d minutes", model.ErrInvalidInterval, interval.DayMinutes)
	}
	if step <= 0 {
		step = duration
	}
	p, err := e.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	avail, err := e.conflicts.Resolver().Resolve(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	bookings, err := e.store.ListBookings(ctx, providerID, date, date)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	windows, err := conflict.Bookable(avail, bookings, p.BufferBefore, p.BufferAfter, conflict.Options{})
	if err != nil {
		return nil, err
	}

	notBefore := 0
	switch now := e.localNow(p); {
	case date.Before(now.Date):
		notBefore = interval.DayMinutes + 1
	case date == now.Date:
		notBefore = now.Minute
	}
	slots := []interval.Interval{}
	for _, start := range suggest.Grid(windows, duration, step, notBefore) {
		slots = append(slots, interval.Interval{Start: start, End: start + duration})
	}
	return slots, nil
}

// GetBooking returns a booking the actor is a party to.
func (e *Engine) GetBooking(ctx context.Context, actor model.Actor, bookingID string) (model.BookingRequest, error) {
	b, err := e.store.GetBooking(ctx, strings.TrimSpace(bookingID))
	if err != nil {
		return model.BookingRequest{}, err
	}
	if !actor.Party(b) {
		return model.BookingRequest{}, fmt.Errorf("booking %s: %w", bookingID, model.ErrNotFound)
	}
	return b, nil
}

// ListBookings returns a provider's bookings in [from, to], optionally
// filtered to one status.
func (e *Engine) ListBookings(ctx context.Context, providerID string, from, to civil.Date, status model.Status) ([]model.BookingRequest, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	all, err := e.store.ListBookings(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]model.BookingRequest, 0, len(all))
	for _, b := range all {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (e *Engine) ListMessages(ctx context.Context, actor model.Actor, bookingID string) ([]model.BookingMessage, error) {
	b, err := e.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.store.ListMessages(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.BookingMessage{}
	}
	return msgs, nil
}

// Ping reports whether the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
