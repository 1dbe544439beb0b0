package conflict

import (
	"errors"
	"slices"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

var monday = civil.Date{Year: 2030, Month: time.January, Day: 7}

func hm(h, m int) int { return h*60 + m }

func booking(id string, status model.Status, start, duration, before, after int) model.BookingRequest {
	return model.BookingRequest{
		ID:           id,
		ProviderID:   "p1",
		Date:         monday,
		Start:        start,
		Duration:     duration,
		Status:       status,
		BufferBefore: before,
		BufferAfter:  after,
	}
}

var workday = []interval.Interval{{Start: hm(9, 0), End: hm(17, 0)}}

func TestFreeSlotsAroundAcceptedBooking(t *testing.T) {
	got, err := FreeSlots(workday, []model.BookingRequest{
		booking("b1", model.StatusAccepted, hm(10, 0), 60, 0, 0),
	}, Options{})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	want := []interval.Interval{{Start: hm(9, 0), End: hm(10, 0)}, {Start: hm(11, 0), End: hm(17, 0)}}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFreeSlotsIgnoresReleasedBookings(t *testing.T) {
	bookings := []model.BookingRequest{
		booking("declined", model.StatusDeclined, hm(9, 0), 60, 0, 0),
		booking("cancelled", model.StatusCancelled, hm(10, 0), 60, 0, 0),
		booking("moved", model.StatusRescheduled, hm(11, 0), 60, 0, 0),
		booking("done", model.StatusCompleted, hm(12, 0), 60, 0, 0),
	}
	got, err := FreeSlots(workday, bookings, Options{})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if !slices.Equal(got, workday) {
		t.Fatalf("expected the full workday, got %v", got)
	}
}

func TestFreeSlotsPendingVariants(t *testing.T) {
	bookings := []model.BookingRequest{booking("b1", model.StatusPending, hm(14, 0), 60, 0, 0)}

	withHolds, err := FreeSlots(workday, bookings, Options{})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(withHolds) != 2 {
		t.Fatalf("expected pending hold to split the day, got %v", withHolds)
	}

	raw, err := FreeSlots(workday, bookings, Options{ExcludeOtherPending: true})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if !slices.Equal(raw, workday) {
		t.Fatalf("expected raw capacity to ignore pending holds, got %v", raw)
	}
}

func TestFreeSlotsAppliesBuffers(t *testing.T) {
	got, err := FreeSlots(workday, []model.BookingRequest{
		booking("b1", model.StatusAccepted, hm(10, 0), 60, 15, 30),
	}, Options{})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	want := []interval.Interval{{Start: hm(9, 0), End: hm(9, 45)}, {Start: hm(11, 30), End: hm(17, 0)}}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFreeSlotsAndBusyReconstructAvailability(t *testing.T) {
	avail := []interval.Interval{{Start: hm(8, 0), End: hm(12, 0)}, {Start: hm(13, 0), End: hm(18, 0)}}
	bookings := []model.BookingRequest{
		booking("b1", model.StatusAccepted, hm(8, 30), 30, 10, 10),
		booking("b2", model.StatusPending, hm(11, 30), 60, 0, 15),
		booking("b3", model.StatusAccepted, hm(17, 30), 30, 0, 60),
	}
	free, err := FreeSlots(avail, bookings, Options{})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	covered, err := interval.Intersect(avail, Busy(bookings, Options{}))
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	back, err := interval.Union(free, covered)
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if !slices.Equal(back, avail) {
		t.Fatalf("expected %v, got %v", avail, back)
	}
}

func TestValidate(t *testing.T) {
	bookings := []model.BookingRequest{booking("b1", model.StatusAccepted, hm(10, 0), 60, 0, 0)}

	ok := Candidate{Slot: interval.Interval{Start: hm(11, 0), End: hm(12, 0)}}
	if err := Validate(workday, bookings, ok, Options{}); err != nil {
		t.Fatalf("expected adjacent slot to be free, got %v", err)
	}

	overlapping := Candidate{Slot: interval.Interval{Start: hm(10, 30), End: hm(11, 30)}}
	if err := Validate(workday, bookings, overlapping, Options{}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	outside := Candidate{Slot: interval.Interval{Start: hm(16, 30), End: hm(17, 30)}}
	if err := Validate(workday, nil, outside, Options{}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict outside availability, got %v", err)
	}
}

func TestValidateSpanningTwoWindowsConflicts(t *testing.T) {
	avail := []interval.Interval{{Start: hm(9, 0), End: hm(12, 0)}, {Start: hm(12, 30), End: hm(17, 0)}}
	c := Candidate{Slot: interval.Interval{Start: hm(11, 30), End: hm(13, 0)}}
	if err := Validate(avail, nil, c, Options{}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestValidateHonoursCandidateBuffers(t *testing.T) {
	bookings := []model.BookingRequest{booking("b1", model.StatusAccepted, hm(10, 0), 60, 0, 0)}

	// The candidate's own 15 minute lead-in would overlap the 10:00-11:00 booking.
	c := Candidate{Slot: interval.Interval{Start: hm(11, 0), End: hm(12, 0)}, BufferBefore: 15}
	if err := Validate(workday, bookings, c, Options{}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	c.Slot = interval.Interval{Start: hm(11, 15), End: hm(12, 15)}
	if err := Validate(workday, bookings, c, Options{}); err != nil {
		t.Fatalf("expected slot after the buffer to fit, got %v", err)
	}
}

func TestValidateIgnoresSelfAndPendingWhenAsked(t *testing.T) {
	self := booking("b1", model.StatusPending, hm(14, 0), 60, 0, 0)
	other := booking("b2", model.StatusPending, hm(14, 0), 60, 0, 0)
	c := Candidate{Slot: self.Slot()}

	opts := Options{ExcludeOtherPending: true, IgnoreBookingID: self.ID}
	if err := Validate(workday, []model.BookingRequest{self, other}, c, opts); err != nil {
		t.Fatalf("pending holds should not block acceptance, got %v", err)
	}

	other.Status = model.StatusAccepted
	if err := Validate(workday, []model.BookingRequest{self, other}, c, opts); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict once the rival is accepted, got %v", err)
	}
}

func TestValidateRejectsInvalidSlot(t *testing.T) {
	c := Candidate{Slot: interval.Interval{Start: hm(10, 0), End: hm(10, 0)}}
	if err := Validate(workday, nil, c, Options{}); !errors.Is(err, model.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}
