package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type fakeSource struct {
	pending   []Record
	published []Record
}

func (f *fakeSource) Claim(_ context.Context, limit int, fn func([]Record) error) error {
	n := min(limit, len(f.pending))
	batch := f.pending[:n]
	if len(batch) == 0 {
		return nil
	}
	if err := fn(batch); err != nil {
		return err
	}
	f.published = append(f.published, batch...)
	f.pending = f.pending[n:]
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishBatchWritesTopicPerEventType(t *testing.T) {
	src := &fakeSource{pending: []Record{
		{ID: 1, EventID: "e1", AggregateID: "b1", EventType: EventBookingSubmitted, Payload: []byte(`{}`)},
		{ID: 2, EventID: "e2", AggregateID: "b1", EventType: EventBookingAccepted, Payload: []byte(`{}`)},
		{ID: 3, EventID: "e3", AggregateID: "b2", EventType: EventBookingSubmitted, Payload: []byte(`{}`)},
	}}
	p := NewPublisher(src, discardLogger(), PublisherConfig{BatchSize: 2})
	w := &fakeWriter{}

	if err := p.PublishBatch(context.Background(), w); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if len(w.msgs) != 2 || len(src.pending) != 1 {
		t.Fatalf("expected one batch of 2 with 1 left, got %d written and %d pending", len(w.msgs), len(src.pending))
	}
	msg := w.msgs[1]
	if msg.Topic != EventBookingAccepted || string(msg.Key) != "b1" {
		t.Fatalf("unexpected message routing topic=%s key=%s", msg.Topic, msg.Key)
	}
	if meta := kafkax.ExtractEventMeta(msg); meta.EventID != "e2" || meta.EventType != EventBookingAccepted {
		t.Fatalf("unexpected headers %+v", meta)
	}
}

func TestPublishBatchKeepsEventsOnWriteFailure(t *testing.T) {
	src := &fakeSource{pending: []Record{{ID: 1, EventID: "e1", EventType: EventBookingDeclined}}}
	p := NewPublisher(src, discardLogger(), PublisherConfig{})

	err := p.PublishBatch(context.Background(), &fakeWriter{err: errors.New("broker down")})
	if err == nil {
		t.Fatal("expected write error")
	}
	if len(src.pending) != 1 || len(src.published) != 0 {
		t.Fatalf("expected event to stay pending, got pending=%d published=%d", len(src.pending), len(src.published))
	}
}

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent(AggregateBookingRequest, "b1", EventBookingCancelled, map[string]string{"booking_id": "b1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if string(evt.Payload) != `{"booking_id":"b1"}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}
