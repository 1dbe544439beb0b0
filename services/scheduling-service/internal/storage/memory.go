package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
)

type hoursKey struct {
	providerID string
	weekday    time.Weekday
}

type exceptionKey struct {
	providerID string
	date       civil.Date
}

// Memory is an in-process Store for tests and local development. Writes are
// staged per transaction and applied under one lock at commit.
type Memory struct {
	mu         sync.RWMutex
	providers  map[string]model.Provider
	hours      map[hoursKey]model.BusinessHours
	rules      map[string]model.RecurringRule
	exceptions map[exceptionKey]model.Exception
	bookings   map[string]model.BookingRequest
	messages   map[string][]model.BookingMessage
	events     []outbox.Record
	published  map[int64]bool
	nextEvent  int64

	faultMu sync.Mutex
	fault   func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		providers:  map[string]model.Provider{},
		hours:      map[hoursKey]model.BusinessHours{},
		rules:      map[string]model.RecurringRule{},
		exceptions: map[exceptionKey]model.Exception{},
		bookings:   map[string]model.BookingRequest{},
		messages:   map[string][]model.BookingMessage{},
		published:  map[int64]bool{},
	}
}

// SetFault makes every staged write call fn first; a non-nil result fails the
// write. Pass nil to clear.
func (m *Memory) SetFault(fn func(op string) error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.fault = fn
}

func (m *Memory) checkFault(op string) error {
	m.faultMu.Lock()
	fn := m.fault
	m.faultMu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

func (m *Memory) Ping(context.Context) error { return nil }

// Events returns every outbox record written so far.
func (m *Memory) Events() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// Claim implements outbox.Source.
func (m *Memory) Claim(_ context.Context, limit int, fn func([]outbox.Record) error) error {
	m.mu.RLock()
	var batch []outbox.Record
	for _, r := range m.events {
		if len(batch) >= limit {
			break
		}
		if !m.published[r.ID] {
			batch = append(batch, r)
		}
	}
	m.mu.RUnlock()
	if len(batch) == 0 {
		return nil
	}
	if err := fn(batch); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range batch {
		m.published[r.ID] = true
	}
	return nil
}

func (m *Memory) InTx(ctx context.Context, _ string, fn func(Tx) error) error {
	tx := &memTx{
		m:          m,
		providers:  map[string]model.Provider{},
		hours:      map[hoursKey]model.BusinessHours{},
		rules:      map[string]model.RecurringRule{},
		exceptions: map[exceptionKey]*model.Exception{},
		bookings:   map[string]model.BookingRequest{},
		messages:   map[string][]model.BookingMessage{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkFault("commit"); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *Memory) commit(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range tx.providers {
		m.providers[id] = p
	}
	for k, h := range tx.hours {
		m.hours[k] = h
	}
	for id, r := range tx.rules {
		m.rules[id] = r
	}
	for k, e := range tx.exceptions {
		if e == nil {
			delete(m.exceptions, k)
			continue
		}
		m.exceptions[k] = *e
	}
	for id, b := range tx.bookings {
		m.bookings[id] = b
	}
	for id, msgs := range tx.messages {
		m.messages[id] = append(m.messages[id], msgs...)
	}
	for _, evt := range tx.events {
		m.nextEvent++
		evt.ID = m.nextEvent
		m.events = append(m.events, evt)
	}
}

func (m *Memory) GetProvider(ctx context.Context, providerID string) (model.Provider, error) {
	return (&memTx{m: m}).GetProvider(ctx, providerID)
}

func (m *Memory) ListBusinessHours(ctx context.Context, providerID string) ([]model.BusinessHours, error) {
	return (&memTx{m: m}).ListBusinessHours(ctx, providerID)
}

func (m *Memory) ListRules(ctx context.Context, providerID string) ([]model.RecurringRule, error) {
	return (&memTx{m: m}).ListRules(ctx, providerID)
}

func (m *Memory) GetRule(ctx context.Context, ruleID string) (model.RecurringRule, error) {
	return (&memTx{m: m}).GetRule(ctx, ruleID)
}

func (m *Memory) ListExceptions(ctx context.Context, providerID string, from, to civil.Date) ([]model.Exception, error) {
	return (&memTx{m: m}).ListExceptions(ctx, providerID, from, to)
}

func (m *Memory) GetBooking(ctx context.Context, bookingID string) (model.BookingRequest, error) {
	return (&memTx{m: m}).GetBooking(ctx, bookingID)
}

func (m *Memory) ListBookings(ctx context.Context, providerID string, from, to civil.Date) ([]model.BookingRequest, error) {
	return (&memTx{m: m}).ListBookings(ctx, providerID, from, to)
}

func (m *Memory) ListMessages(ctx context.Context, bookingID string) ([]model.BookingMessage, error) {
	return (&memTx{m: m}).ListMessages(ctx, bookingID)
}

// memTx overlays staged writes on the committed state. A memTx with nil maps
// is a plain read view.
type memTx struct {
	m          *Memory
	providers  map[string]model.Provider
	hours      map[hoursKey]model.BusinessHours
	rules      map[string]model.RecurringRule
	exceptions map[exceptionKey]*model.Exception
	bookings   map[string]model.BookingRequest
	messages   map[string][]model.BookingMessage
	events     []outbox.Record
}

func (t *memTx) GetProvider(_ context.Context, providerID string) (model.Provider, error) {
	if p, ok := t.providers[providerID]; ok {
		return p, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	p, ok := t.m.providers[providerID]
	if !ok {
		return model.Provider{}, fmt.Errorf("provider %s: %w", providerID, model.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) ListBusinessHours(_ context.Context, providerID string) ([]model.BusinessHours, error) {
	merged := map[time.Weekday]model.BusinessHours{}
	t.m.mu.RLock()
	for k, h := range t.m.hours {
		if k.providerID == providerID {
			merged[k.weekday] = h
		}
	}
	t.m.mu.RUnlock()
	for k, h := range t.hours {
		if k.providerID == providerID {
			merged[k.weekday] = h
		}
	}

	out := make([]model.BusinessHours, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b model.BusinessHours) int { return cmp.Compare(a.Weekday, b.Weekday) })
	return out, nil
}

func (t *memTx) ListRules(_ context.Context, providerID string) ([]model.RecurringRule, error) {
	merged := map[string]model.RecurringRule{}
	t.m.mu.RLock()
	for id, r := range t.m.rules {
		if r.ProviderID == providerID {
			merged[id] = r
		}
	}
	t.m.mu.RUnlock()
	for id, r := range t.rules {
		if r.ProviderID == providerID {
			merged[id] = r
		}
	}

	out := make([]model.RecurringRule, 0, len(merged))
	for _, r := range merged {
		out = append(out, cloneRule(r))
	}
	slices.SortFunc(out, func(a, b model.RecurringRule) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) GetRule(_ context.Context, ruleID string) (model.RecurringRule, error) {
	if r, ok := t.rules[ruleID]; ok {
		return cloneRule(r), nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	r, ok := t.m.rules[ruleID]
	if !ok {
		return model.RecurringRule{}, fmt.Errorf("rule %s: %w", ruleID, model.ErrNotFound)
	}
	return cloneRule(r), nil
}

func (t *memTx) ListExceptions(_ context.Context, providerID string, from, to civil.Date) ([]model.Exception, error) {
	merged := map[civil.Date]*model.Exception{}
	t.m.mu.RLock()
	for k, e := range t.m.exceptions {
		if k.providerID == providerID {
			merged[k.date] = &e
		}
	}
	t.m.mu.RUnlock()
	for k, e := range t.exceptions {
		if k.providerID == providerID {
			merged[k.date] = e
		}
	}

	var out []model.Exception
	for d, e := range merged {
		if e == nil || d.Before(from) || d.After(to) {
			continue
		}
		c := *e
		c.Intervals = slices.Clone(e.Intervals)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Exception) int { return compareDates(a.Date, b.Date) })
	return out, nil
}

func (t *memTx) GetBooking(_ context.Context, bookingID string) (model.BookingRequest, error) {
	if b, ok := t.bookings[bookingID]; ok {
		return b, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	b, ok := t.m.bookings[bookingID]
	if !ok {
		return model.BookingRequest{}, fmt.Errorf("booking %s: %w", bookingID, model.ErrNotFound)
	}
	return b, nil
}

func (t *memTx) ListBookings(_ context.Context, providerID string, from, to civil.Date) ([]model.BookingRequest, error) {
	merged := map[string]model.BookingRequest{}
	t.m.mu.RLock()
	for id, b := range t.m.bookings {
		if b.ProviderID == providerID {
			merged[id] = b
		}
	}
	t.m.mu.RUnlock()
	for id, b := range t.bookings {
		if b.ProviderID == providerID {
			merged[id] = b
		}
	}

	var out []model.BookingRequest
	for _, b := range merged {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b model.BookingRequest) int {
		if c := compareDates(a.Date, b.Date); c != 0 {
			return c
		}
		if a.Start != b.Start {
			return cmp.Compare(a.Start, b.Start)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (t *memTx) ListMessages(_ context.Context, bookingID string) ([]model.BookingMessage, error) {
	t.m.mu.RLock()
	out := slices.Clone(t.m.messages[bookingID])
	t.m.mu.RUnlock()
	return append(out, t.messages[bookingID]...), nil
}

func (t *memTx) UpsertProvider(_ context.Context, p model.Provider) error {
	if err := t.m.checkFault("upsert_provider"); err != nil {
		return err
	}
	t.providers[p.ID] = p
	return nil
}

func (t *memTx) UpsertBusinessHours(_ context.Context, h model.BusinessHours) error {
	if err := t.m.checkFault("upsert_business_hours"); err != nil {
		return err
	}
	t.hours[hoursKey{h.ProviderID, h.Weekday}] = h
	return nil
}

func (t *memTx) UpsertRule(_ context.Context, r model.RecurringRule) error {
	if err := t.m.checkFault("upsert_rule"); err != nil {
		return err
	}
	t.rules[r.ID] = cloneRule(r)
	return nil
}

func (t *memTx) UpsertException(_ context.Context, e model.Exception) error {
	if err := t.m.checkFault("upsert_exception"); err != nil {
		return err
	}
	e.Intervals = slices.Clone(e.Intervals)
	t.exceptions[exceptionKey{e.ProviderID, e.Date}] = &e
	return nil
}

func (t *memTx) DeleteException(ctx context.Context, providerID string, date civil.Date) error {
	if err := t.m.checkFault("delete_exception"); err != nil {
		return err
	}
	existing, err := t.ListExceptions(ctx, providerID, date, date)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("exception %s on %s: %w", providerID, date, model.ErrNotFound)
	}
	t.exceptions[exceptionKey{providerID, date}] = nil
	return nil
}

func (t *memTx) InsertBooking(ctx context.Context, b model.BookingRequest) error {
	if err := t.m.checkFault("insert_booking"); err != nil {
		return err
	}
	if _, err := t.GetBooking(ctx, b.ID); err == nil {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	t.bookings[b.ID] = b
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b model.BookingRequest) error {
	if err := t.m.checkFault("update_booking"); err != nil {
		return err
	}
	if _, err := t.GetBooking(ctx, b.ID); err != nil {
		return err
	}
	t.bookings[b.ID] = b
	return nil
}

func (t *memTx) AppendMessage(ctx context.Context, msg model.BookingMessage) (model.BookingMessage, error) {
	if err := t.m.checkFault("append_message"); err != nil {
		return model.BookingMessage{}, err
	}
	existing, err := t.ListMessages(ctx, msg.BookingID)
	if err != nil {
		return model.BookingMessage{}, err
	}
	msg.Seq = len(existing) + 1
	t.messages[msg.BookingID] = append(t.messages[msg.BookingID], msg)
	return msg, nil
}

func (t *memTx) AddEvent(ctx context.Context, evt outbox.Event) error {
	if err := t.m.checkFault("outbox"); err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	t.events = append(t.events, outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       slices.Clone(evt.Payload),
		Traceparent:   traceparent,
		Tracestate:    tracestate,
		CreatedAt:     time.Now().UTC(),
	})
	return nil
}

func cloneRule(r model.RecurringRule) model.RecurringRule {
	r.Weekdays = slices.Clone(r.Weekdays)
	r.Dates = slices.Clone(r.Dates)
	r.MonthDays = slices.Clone(r.MonthDays)
	if r.EffectiveUntil != nil {
		until := *r.EffectiveUntil
		r.EffectiveUntil = &until
	}
	return r
}

func compareDates(a, b civil.Date) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
