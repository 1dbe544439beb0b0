package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Decision string

const (
	Accept  Decision = "accept"
	Decline Decision = "decline"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case Accept, Decline:
		return d, nil
	}
	return "", fmt.Errorf("%w: decision must be accept or decline", model.ErrInvalidInput)
}

type SubmitRequest struct {
	ProviderID string
	ClientID   string
	Date       civil.Date
	Start      int
	Duration   int
	Note       string
}

// transitionEvent is the outbox payload for every booking state change.
type transitionEvent struct {
	Booking    model.BookingRequest  `json:"booking"`
	From       model.Status          `json:"from_status,omitempty"`
	Next       *model.BookingRequest `json:"next,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
}

var eventTypes = map[model.Status]string{
	model.StatusPending:     outbox.EventBookingSubmitted,
	model.StatusAccepted:    outbox.EventBookingAccepted,
	model.StatusDeclined:    outbox.EventBookingDeclined,
	model.StatusRescheduled: outbox.EventBookingRescheduled,
	model.StatusCancelled:   outbox.EventBookingCancelled,
	model.StatusCompleted:   outbox.EventBookingCompleted,
}

// SubmitBookingRequest creates a Pending request after checking the slot
// against accepted bookings. Other pending holds do not block submission;
// contention between them is settled at acceptance.
func (e *Engine) SubmitBookingRequest(ctx context.Context, req SubmitRequest) (b model.BookingRequest, err error) {
	ctx, span := e.startSpan(ctx, "submit", attribute.String("provider_id", req.ProviderID))
	defer func() { end(span, err) }()

	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ProviderID == "" || req.ClientID == "" {
		return model.BookingRequest{}, fmt.Errorf("%w: provider and client required", model.ErrInvalidInput)
	}
	if !req.Date.IsValid() {
		return model.BookingRequest{}, fmt.Errorf("%w: invalid date", model.ErrInvalidInput)
	}
	slot, err := interval.Of(req.Start, req.Duration)
	if err != nil {
		return model.BookingRequest{}, err
	}

	err = e.withProvider(ctx, req.ProviderID, func(tx storage.Tx) error {
		p, err := tx.GetProvider(ctx, req.ProviderID)
		if err != nil {
			return err
		}
		if err := e.notStarted(p, req.Date, slot.Start); err != nil {
			return err
		}
		c := conflict.Candidate{Slot: slot, BufferBefore: p.BufferBefore, BufferAfter: p.BufferAfter}
		if err := validateIn(ctx, tx, p.ID, req.Date, c, conflict.Options{ExcludeOtherPending: true}); err != nil {
			e.countConflict(ctx, err, "submit")
			return err
		}

		now := e.now().UTC()
		b = model.BookingRequest{
			ID:           uuid.NewString(),
			ProviderID:   p.ID,
			ClientID:     req.ClientID,
			Date:         req.Date,
			Start:        slot.Start,
			Duration:     req.Duration,
			Note:         strings.TrimSpace(req.Note),
			Status:       model.StatusPending,
			BufferBefore: p.BufferBefore,
			BufferAfter:  p.BufferAfter,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return e.emitTransition(ctx, tx, b, "", nil)
	})
	if err != nil {
		return model.BookingRequest{}, err
	}
	e.logTransition(ctx, b, "")
	return b, nil
}

// RespondToBooking accepts or declines a Pending request. Acceptance re-runs
// validation under the provider lock; a Conflict leaves the request Pending.
// Declining an already Declined request returns it unchanged.
func (e *Engine) RespondToBooking(ctx context.Context, actor model.Actor, bookingID string, decision Decision, reason string) (b model.BookingRequest, err error) {
	ctx, span := e.startSpan(ctx, "respond", attribute.String("booking_id", bookingID), attribute.String("decision", string(decision)))
	defer func() { end(span, err) }()

	if actor.Role == model.SenderClient {
		return model.BookingRequest{}, fmt.Errorf("%w: only the provider can respond to a request", model.ErrForbidden)
	}
	var from model.Status
	err = e.withBooking(ctx, actor, bookingID, func(tx storage.Tx, p model.Provider, cur model.BookingRequest) error {
		from = cur.Status
		switch decision {
		case Decline:
			if cur.Status == model.StatusDeclined {
				b = cur
				return nil
			}
			next, err := cur.Status.Decline()
			if err != nil {
				return err
			}
			cur.Status = next
			cur.DeclineReason = strings.TrimSpace(reason)
		case Accept:
			next, err := cur.Status.Accept()
			if err != nil {
				return err
			}
			if err := e.notStarted(p, cur.Date, cur.Start); err != nil {
				return err
			}
			c := conflict.Candidate{Slot: cur.Slot(), BufferBefore: cur.BufferBefore, BufferAfter: cur.BufferAfter}
			opts := conflict.Options{ExcludeOtherPending: true, IgnoreBookingID: cur.ID}
			if err := validateIn(ctx, tx, p.ID, cur.Date, c, opts); err != nil {
				if errors.Is(err, model.ErrConflict) {
					e.logger.WarnContext(ctx, "booking lost slot at acceptance",
						"booking_id", cur.ID, "provider_id", cur.ProviderID, "date", cur.Date.String(), "slot", cur.Slot().String())
				}
				e.countConflict(ctx, err, "accept")
				return err
			}
			cur.Status = next
		default:
			return fmt.Errorf("%w: unknown decision %q", model.ErrInvalidInput, decision)
		}
		cur.UpdatedAt = e.now().UTC()
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		b = cur
		return e.emitTransition(ctx, tx, cur, from, nil)
	})
	if err != nil {
		return model.BookingRequest{}, err
	}
	if b.Status != from {
		e.logTransition(ctx, b, from)
	}
	return b, nil
}

// RescheduleBooking releases an Accepted booking's slot and creates a new
// Pending request at newDate/newStart with the same duration, buffers and
// thread. The old record becomes Rescheduled and points at the new one.
func (e *Engine) RescheduleBooking(ctx context.Context, actor model.Actor, bookingID string, newDate civil.Date, newStart int) (previous, next model.BookingRequest, err error) {
	ctx, span := e.startSpan(ctx, "reschedule", attribute.String("booking_id", bookingID))
	defer func() { end(span, err) }()

	if !newDate.IsValid() {
		return model.BookingRequest{}, model.BookingRequest{}, fmt.Errorf("%w: invalid date", model.ErrInvalidInput)
	}
	err = e.withBooking(ctx, actor, bookingID, func(tx storage.Tx, p model.Provider, cur model.BookingRequest) error {
		status, err := cur.Status.Reschedule()
		if err != nil {
			return err
		}
		if err := e.notStarted(p, cur.Date, cur.Start); err != nil {
			return err
		}
		slot, err := interval.Of(newStart, cur.Duration)
		if err != nil {
			return err
		}
		if err := e.notStarted(p, newDate, slot.Start); err != nil {
			return err
		}
		c := conflict.Candidate{Slot: slot, BufferBefore: cur.BufferBefore, BufferAfter: cur.BufferAfter}
		opts := conflict.Options{ExcludeOtherPending: true, IgnoreBookingID: cur.ID}
		if err := validateIn(ctx, tx, p.ID, newDate, c, opts); err != nil {
			e.countConflict(ctx, err, "reschedule")
			return err
		}

		now := e.now().UTC()
		next = cur
		next.ID = uuid.NewString()
		next.Date = newDate
		next.Start = slot.Start
		next.Status = model.StatusPending
		next.RescheduledFrom = cur.ID
		next.RescheduledTo = ""
		next.DeclineReason = ""
		next.CancelReason = ""
		next.CreatedAt = now
		next.UpdatedAt = now
		if err := tx.InsertBooking(ctx, next); err != nil {
			return fmt.Errorf("insert rescheduled booking: %w", err)
		}

		from := cur.Status
		cur.Status = status
		cur.RescheduledTo = next.ID
		cur.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		if err := copyThread(ctx, tx, cur.ID, next.ID); err != nil {
			return err
		}
		note := fmt.Sprintf("Rescheduled by %s from %s %s to %s %s", actor.Role,
			cur.Date, interval.FormatClock(cur.Start), next.Date, interval.FormatClock(next.Start))
		if _, err := tx.AppendMessage(ctx, model.BookingMessage{
			ID:        uuid.NewString(),
			BookingID: next.ID,
			Sender:    model.SenderSystem,
			Body:      note,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append message: %w", err)
		}

		previous = cur
		return e.emitTransition(ctx, tx, cur, from, &next)
	})
	if err != nil {
		return model.BookingRequest{}, model.BookingRequest{}, err
	}
	e.logTransition(ctx, previous, model.StatusAccepted)
	e.logTransition(ctx, next, "")
	return previous, next, nil
}

func copyThread(ctx context.Context, tx storage.Tx, fromID, toID string) error {
	msgs, err := tx.ListMessages(ctx, fromID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	for _, m := range msgs {
		m.ID = uuid.NewString()
		m.BookingID = toID
		if _, err := tx.AppendMessage(ctx, m); err != nil {
			return fmt.Errorf("copy message: %w", err)
		}
	}
	return nil
}

// CancelBooking cancels an Accepted booking before it starts and frees its
// slot. Cancelling an already Cancelled booking returns it unchanged.
func (e *Engine) CancelBooking(ctx context.Context, actor model.Actor, bookingID, reason string) (b model.BookingRequest, err error) {
	ctx, span := e.startSpan(ctx, "cancel", attribute.String("booking_id", bookingID))
	defer func() { end(span, err) }()

	var from model.Status
	err = e.withBooking(ctx, actor, bookingID, func(tx storage.Tx, p model.Provider, cur model.BookingRequest) error {
		from = cur.Status
		if cur.Status == model.StatusCancelled {
			b = cur
			return nil
		}
		next, err := cur.Status.Cancel()
		if err != nil {
			return err
		}
		if err := e.notStarted(p, cur.Date, cur.Start); err != nil {
			return err
		}
		cur.Status = next
		cur.CancelReason = strings.TrimSpace(reason)
		cur.UpdatedAt = e.now().UTC()
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		b = cur
		return e.emitTransition(ctx, tx, cur, from, nil)
	})
	if err != nil {
		return model.BookingRequest{}, err
	}
	if b.Status != from {
		e.logTransition(ctx, b, from)
	}
	return b, nil
}

// CompleteBooking closes an Accepted booking once its end has passed in
// provider time.
func (e *Engine) CompleteBooking(ctx context.Context, actor model.Actor, bookingID string) (b model.BookingRequest, err error) {
	ctx, span := e.startSpan(ctx, "complete", attribute.String("booking_id", bookingID))
	defer func() { end(span, err) }()

	if actor.Role == model.SenderClient {
		return model.BookingRequest{}, fmt.Errorf("%w: only the provider can complete a booking", model.ErrForbidden)
	}
	err = e.withBooking(ctx, actor, bookingID, func(tx storage.Tx, p model.Provider, cur model.BookingRequest) error {
		next, err := cur.Status.Complete()
		if err != nil {
			return err
		}
		if e.now().Before(cur.EndsAt(p.Location())) {
			return fmt.Errorf("%w: booking %s ends at %s", model.ErrNotDue, cur.ID, cur.EndsAt(p.Location()).Format(time.RFC3339))
		}
		from := cur.Status
		cur.Status = next
		cur.UpdatedAt = e.now().UTC()
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		b = cur
		return e.emitTransition(ctx, tx, cur, from, nil)
	})
	if err != nil {
		return model.BookingRequest{}, err
	}
	e.logTransition(ctx, b, model.StatusAccepted)
	return b, nil
}

// PostMessage appends to a booking's thread as actor. Messages never change
// scheduling state and are allowed in every status.
func (e *Engine) PostMessage(ctx context.Context, actor model.Actor, bookingID, body string) (msg model.BookingMessage, err error) {
	ctx, span := e.startSpan(ctx, "post_message", attribute.String("booking_id", bookingID))
	defer func() { end(span, err) }()

	body = strings.TrimSpace(body)
	if body == "" {
		return model.BookingMessage{}, fmt.Errorf("%w: message body required", model.ErrInvalidInput)
	}
	if _, err := model.ParseSender(string(actor.Role)); err != nil {
		return model.BookingMessage{}, err
	}
	err = e.withBooking(ctx, actor, bookingID, func(tx storage.Tx, _ model.Provider, cur model.BookingRequest) error {
		saved, err := tx.AppendMessage(ctx, model.BookingMessage{
			ID:        uuid.NewString(),
			BookingID: cur.ID,
			Sender:    actor.Role,
			AuthorID:  actor.ID,
			Body:      body,
			CreatedAt: e.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		msg = saved
		return nil
	})
	if err != nil {
		return model.BookingMessage{}, err
	}
	return msg, nil
}

// withBooking resolves the booking's provider, takes its lock and hands fn the
// booking as read inside the transaction. Bookings the actor is not a party
// to are reported as not found.
func (e *Engine) withBooking(ctx context.Context, actor model.Actor, bookingID string, fn func(storage.Tx, model.Provider, model.BookingRequest) error) error {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return fmt.Errorf("%w: booking id required", model.ErrInvalidInput)
	}
	peek, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if !actor.Party(peek) {
		return fmt.Errorf("booking %s: %w", bookingID, model.ErrNotFound)
	}
	return e.withProvider(ctx, peek.ProviderID, func(tx storage.Tx) error {
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := tx.GetProvider(ctx, cur.ProviderID)
		if err != nil {
			return err
		}
		return fn(tx, p, cur)
	})
}

// notStarted fails with ErrTooLate once minute on date has been reached in
// provider time.
func (e *Engine) notStarted(p model.Provider, date civil.Date, minute int) error {
	startsAt := model.LocalTime(date, minute, p.Location())
	if !e.now().Before(startsAt) {
		return fmt.Errorf("%w: %s %s has passed", model.ErrTooLate, date, interval.FormatClock(minute))
	}
	return nil
}

func (e *Engine) emitTransition(ctx context.Context, tx storage.Tx, b model.BookingRequest, from model.Status, next *model.BookingRequest) error {
	payload := transitionEvent{Booking: b, From: from, Next: next, OccurredAt: b.UpdatedAt}
	return e.emit(ctx, tx, outbox.AggregateBookingRequest, b.ID, eventTypes[b.Status], payload)
}

func (e *Engine) logTransition(ctx context.Context, b model.BookingRequest, from model.Status) {
	e.logger.InfoContext(ctx, "booking transition",
		"booking_id", b.ID, "provider_id", b.ProviderID, "from", string(from), "to", string(b.Status))
	if e.transitionCount != nil {
		e.transitionCount.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(b.Status))))
	}
}

func (e *Engine) countConflict(ctx context.Context, err error, op string) {
	if e.conflictCount != nil && errors.Is(err, model.ErrConflict) {
		e.conflictCount.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}
