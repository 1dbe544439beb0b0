// Package booking runs the booking request state machine and every mutation
// of a provider's availability. Writes for one provider are serialized by an
// in-process lock and a store transaction; reads take no lock.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/locks"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/suggest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/booking"

// Defaults seed providers that are first touched by a mutation.
type Defaults struct {
	Timezone     string
	BufferBefore int
	BufferAfter  int
}

type Engine struct {
	store     storage.Store
	locks     *locks.Table
	conflicts *conflict.Engine
	suggester *suggest.Suggester
	logger    *slog.Logger
	now       func() time.Time
	defaults  Defaults

	tracer          trace.Tracer
	transitionCount metric.Int64Counter
	conflictCount   metric.Int64Counter
}

type Option func(*Engine)

// WithClock replaces time.Now; tests use it to pin "now" in provider time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithDefaults(d Defaults) Option {
	return func(e *Engine) {
		if d.Timezone == "" {
			d.Timezone = "UTC"
		}
		e.defaults = d
	}
}

// WithLocks shares a lock table between engines over the same store.
func WithLocks(t *locks.Table) Option {
	return func(e *Engine) { e.locks = t }
}

func New(store storage.Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	conflicts := conflict.NewEngine(store)
	e := &Engine{
		store:     store,
		locks:     locks.NewTable(),
		conflicts: conflicts,
		suggester: suggest.New(conflicts),
		logger:    logger,
		now:       time.Now,
		defaults:  Defaults{Timezone: "UTC"},
		tracer:    otel.Tracer(instrumentation),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter(instrumentation)
	e.transitionCount, _ = meter.Int64Counter("booking_transitions_total",
		metric.WithDescription("Committed booking request state transitions"))
	e.conflictCount, _ = meter.Int64Counter("booking_conflicts_total",
		metric.WithDescription("Booking operations rejected because the slot was not free"))
	return e
}

// withProvider runs fn under the provider lock inside one store transaction.
// Nothing fn writes, outbox events included, survives an error.
func (e *Engine) withProvider(ctx context.Context, providerID string, fn func(storage.Tx) error) error {
	unlock, err := e.locks.Lock(ctx, providerID)
	if err != nil {
		return err
	}
	defer unlock()
	return e.store.InTx(ctx, providerID, fn)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "booking."+name, trace.WithAttributes(attrs...))
}

// end records err on span unless it is an expected domain outcome.
func end(span trace.Span, err error) {
	if err != nil && !expected(err) {
		span.RecordError(err)
	}
	span.End()
}

func expected(err error) bool {
	for _, kind := range []error{model.ErrConflict, model.ErrInvalidTransition, model.ErrNotFound, model.ErrInvalidInput,
		model.ErrInvalidInterval, model.ErrTooLate, model.ErrNotDue, model.ErrForbidden} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// ensureProvider loads the provider or creates it with the engine defaults.
func (e *Engine) ensureProvider(ctx context.Context, tx storage.Tx, providerID string) (model.Provider, error) {
	p, err := tx.GetProvider(ctx, providerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Provider{}, err
	}
	p = model.Provider{
		ID:           providerID,
		Timezone:     e.defaults.Timezone,
		BufferBefore: e.defaults.BufferBefore,
		BufferAfter:  e.defaults.BufferAfter,
		UpdatedAt:    e.now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return model.Provider{}, err
	}
	if err := tx.UpsertProvider(ctx, p); err != nil {
		return model.Provider{}, fmt.Errorf("create provider: %w", err)
	}
	return p, nil
}

// localNow is the current provider-local date and minute, rounded up so a
// slot starting at the returned minute has not begun yet.
func (e *Engine) localNow(p model.Provider) suggest.Moment {
	t := e.now().In(p.Location())
	minute := t.Hour()*60 + t.Minute()
	if t.Second() > 0 || t.Nanosecond() > 0 {
		minute++
	}
	return suggest.Moment{Date: civil.DateOf(t), Minute: minute}
}

// validateIn checks a candidate against the state visible inside tx.
func validateIn(ctx context.Context, tx storage.Tx, providerID string, date civil.Date, c conflict.Candidate, opts conflict.Options) error {
	layers, err := availability.LoadLayers(ctx, tx, providerID, date, date)
	if err != nil {
		return err
	}
	days, err := availability.Compute(layers, date, date)
	if err != nil {
		return err
	}
	bookings, err := tx.ListBookings(ctx, providerID, date, date)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	return conflict.Validate(days[0].Intervals, bookings, c, opts)
}

func (e *Engine) emit(ctx context.Context, tx storage.Tx, aggregateType, aggregateID, eventType string, payload any) error {
	evt, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return err
	}
	if err := tx.AddEvent(ctx, evt); err != nil {
		return fmt.Errorf("outbox insert: %w", err)
	}
	return nil
}
