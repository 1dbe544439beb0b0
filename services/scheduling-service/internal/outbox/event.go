package outbox

import (
	"encoding/json"
	"time"
)

// Event is the domain event envelope written to the outbox in the same
// transaction as the state change it describes. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateBookingRequest = "booking_request"
	AggregateProvider       = "provider"

	EventBookingSubmitted    = "booking.request.submitted.v1"
	EventBookingAccepted     = "booking.request.accepted.v1"
	EventBookingDeclined     = "booking.request.declined.v1"
	EventBookingRescheduled  = "booking.request.rescheduled.v1"
	EventBookingCancelled    = "booking.request.cancelled.v1"
	EventBookingCompleted    = "booking.request.completed.v1"
	EventAvailabilityChanged = "provider.availability.changed.v1"
)

func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}

// Record is a stored event awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
