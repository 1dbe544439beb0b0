// Package storage persists providers, availability layers, bookings and their
// message threads. Every write happens inside a provider-scoped transaction
// that either applies completely or not at all.
package storage

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
)

// Reader methods return model.ErrNotFound for unknown ids.
type Reader interface {
	GetProvider(ctx context.Context, providerID string) (model.Provider, error)
	ListBusinessHours(ctx context.Context, providerID string) ([]model.BusinessHours, error)
	ListRules(ctx context.Context, providerID string) ([]model.RecurringRule, error)
	GetRule(ctx context.Context, ruleID string) (model.RecurringRule, error)
	ListExceptions(ctx context.Context, providerID string, from, to civil.Date) ([]model.Exception, error)
	GetBooking(ctx context.Context, bookingID string) (model.BookingRequest, error)
	ListBookings(ctx context.Context, providerID string, from, to civil.Date) ([]model.BookingRequest, error)
	ListMessages(ctx context.Context, bookingID string) ([]model.BookingMessage, error)
}

// Tx sees its own uncommitted writes.
type Tx interface {
	Reader
	UpsertProvider(ctx context.Context, p model.Provider) error
	UpsertBusinessHours(ctx context.Context, h model.BusinessHours) error
	UpsertRule(ctx context.Context, r model.RecurringRule) error
	UpsertException(ctx context.Context, e model.Exception) error
	DeleteException(ctx context.Context, providerID string, date civil.Date) error
	InsertBooking(ctx context.Context, b model.BookingRequest) error
	UpdateBooking(ctx context.Context, b model.BookingRequest) error
	// AppendMessage assigns the next sequence number in the booking's thread.
	AppendMessage(ctx context.Context, m model.BookingMessage) (model.BookingMessage, error)
	AddEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	Reader
	// InTx runs fn in a transaction scoped to providerID. Nothing fn wrote is
	// visible to others unless fn returns nil and the commit succeeds.
	InTx(ctx context.Context, providerID string, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

var (
	_ Store         = (*Memory)(nil)
	_ Store         = (*Postgres)(nil)
	_ outbox.Source = (*Memory)(nil)
	_ outbox.Source = (*outbox.Repository)(nil)
)
