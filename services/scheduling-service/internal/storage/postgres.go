package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the durable Store. InTx takes a transaction-scoped advisory lock
// on the provider id so writers for one provider serialize across replicas.
type Postgres struct {
	reader
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{
		reader: reader{q: pool},
		pool:   pool,
		outbox: outbox.NewRepository(pool),
	}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return db.ReadyCheck(p.pool)(ctx)
}

// Outbox exposes the event repository for the publisher.
func (p *Postgres) Outbox() *outbox.Repository {
	return p.outbox
}

func (p *Postgres) InTx(ctx context.Context, providerID string, fn func(Tx) error) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID); err != nil {
			return fmt.Errorf("provider lock: %w", err)
		}
		return fn(&pgTx{reader: reader{q: tx, forUpdate: true}, tx: tx, outbox: p.outbox})
	})
}

type reader struct {
	q         querier
	forUpdate bool
}

func (r reader) GetProvider(ctx context.Context, providerID string) (model.Provider, error) {
	var p model.Provider
	err := r.q.QueryRow(ctx, `
		SELECT provider_id, timezone, buffer_before_minutes, buffer_after_minutes, updated_at
		FROM providers
		WHERE provider_id = $1
	`, providerID).Scan(&p.ID, &p.Timezone, &p.BufferBefore, &p.BufferAfter, &p.UpdatedAt)
	if err != nil {
		return model.Provider{}, notFound(err, "provider "+providerID)
	}
	return p, nil
}

func (r reader) ListBusinessHours(ctx context.Context, providerID string) ([]model.BusinessHours, error) {
	rows, err := r.q.Query(ctx, `
		SELECT provider_id, weekday, is_open, start_minute, end_minute
		FROM business_hours
		WHERE provider_id = $1
		ORDER BY weekday
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessHours
	for rows.Next() {
		var h model.BusinessHours
		var weekday int16
		if err := rows.Scan(&h.ProviderID, &weekday, &h.Open, &h.Window.Start, &h.Window.End); err != nil {
			return nil, err
		}
		h.Weekday = time.Weekday(weekday)
		out = append(out, h)
	}
	return out, rows.Err()
}

const ruleColumns = `id, provider_id, name, kind, weekdays, dates, month_days, start_minute, end_minute,
	action, effective_from, effective_until, active, created_at, updated_at`

func (r reader) ListRules(ctx context.Context, providerID string) ([]model.RecurringRule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM recurring_rules
		WHERE provider_id = $1
		ORDER BY created_at, id
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r reader) GetRule(ctx context.Context, ruleID string) (model.RecurringRule, error) {
	rule, err := scanRule(r.q.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM recurring_rules
		WHERE id = $1
	`, ruleID))
	if err != nil {
		return model.RecurringRule{}, notFound(err, "rule "+ruleID)
	}
	return rule, nil
}

func scanRule(row pgx.Row) (model.RecurringRule, error) {
	var (
		rule      model.RecurringRule
		kind      string
		action    string
		weekdays  []int32
		dates     []time.Time
		monthDays []int32
		from      time.Time
		until     *time.Time
	)
	err := row.Scan(&rule.ID, &rule.ProviderID, &rule.Name, &kind, &weekdays, &dates, &monthDays,
		&rule.Window.Start, &rule.Window.End, &action, &from, &until, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return model.RecurringRule{}, err
	}
	rule.Kind = model.RuleKind(kind)
	rule.Action = model.RuleAction(action)
	for _, wd := range weekdays {
		rule.Weekdays = append(rule.Weekdays, time.Weekday(wd))
	}
	for _, d := range dates {
		rule.Dates = append(rule.Dates, civil.DateOf(d))
	}
	for _, md := range monthDays {
		rule.MonthDays = append(rule.MonthDays, int(md))
	}
	rule.EffectiveFrom = civil.DateOf(from)
	if until != nil {
		d := civil.DateOf(*until)
		rule.EffectiveUntil = &d
	}
	return rule, nil
}

func (r reader) ListExceptions(ctx context.Context, providerID string, from, to civil.Date) ([]model.Exception, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, provider_id, exception_date, full_day, intervals, reason, created_at
		FROM availability_exceptions
		WHERE provider_id = $1 AND exception_date BETWEEN $2 AND $3
		ORDER BY exception_date
	`, providerID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exception
	for rows.Next() {
		var (
			e    model.Exception
			date time.Time
			raw  []byte
		)
		if err := rows.Scan(&e.ID, &e.ProviderID, &date, &e.FullDay, &raw, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Date = civil.DateOf(date)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Intervals); err != nil {
				return nil, fmt.Errorf("exception %s intervals: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const bookingColumns = `id, provider_id, client_id, booking_date, start_minute, duration_minutes, note, status,
	buffer_before_minutes, buffer_after_minutes, rescheduled_from, rescheduled_to,
	decline_reason, cancel_reason, created_at, updated_at`

func (r reader) GetBooking(ctx context.Context, bookingID string) (model.BookingRequest, error) {
	query := `SELECT ` + bookingColumns + ` FROM booking_requests WHERE id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(r.q.QueryRow(ctx, query, bookingID))
	if err != nil {
		return model.BookingRequest{}, notFound(err, "booking "+bookingID)
	}
	return b, nil
}

func (r reader) ListBookings(ctx context.Context, providerID string, from, to civil.Date) ([]model.BookingRequest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM booking_requests
		WHERE provider_id = $1 AND booking_date BETWEEN $2 AND $3
		ORDER BY booking_date, start_minute, created_at
	`, providerID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookingRequest
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (model.BookingRequest, error) {
	var (
		b      model.BookingRequest
		date   time.Time
		status string
	)
	err := row.Scan(&b.ID, &b.ProviderID, &b.ClientID, &date, &b.Start, &b.Duration, &b.Note, &status,
		&b.BufferBefore, &b.BufferAfter, &b.RescheduledFrom, &b.RescheduledTo,
		&b.DeclineReason, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.BookingRequest{}, err
	}
	b.Date = civil.DateOf(date)
	b.Status = model.Status(status)
	return b, nil
}

func (r reader) ListMessages(ctx context.Context, bookingID string) ([]model.BookingMessage, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, booking_id, seq, sender, author_id, body, created_at
		FROM booking_messages
		WHERE booking_id = $1
		ORDER BY seq
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookingMessage
	for rows.Next() {
		var m model.BookingMessage
		var sender string
		if err := rows.Scan(&m.ID, &m.BookingID, &m.Seq, &sender, &m.AuthorID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = model.Sender(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

type pgTx struct {
	reader
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) UpsertProvider(ctx context.Context, p model.Provider) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO providers (provider_id, timezone, buffer_before_minutes, buffer_after_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id) DO UPDATE
		SET timezone = EXCLUDED.timezone,
			buffer_before_minutes = EXCLUDED.buffer_before_minutes,
			buffer_after_minutes = EXCLUDED.buffer_after_minutes,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Timezone, p.BufferBefore, p.BufferAfter, p.UpdatedAt)
	return err
}

func (t *pgTx) UpsertBusinessHours(ctx context.Context, h model.BusinessHours) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO business_hours (provider_id, weekday, is_open, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET is_open = EXCLUDED.is_open,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`, h.ProviderID, int16(h.Weekday), h.Open, h.Window.Start, h.Window.End)
	return err
}

func (t *pgTx) UpsertRule(ctx context.Context, r model.RecurringRule) error {
	weekdays := make([]int32, 0, len(r.Weekdays))
	for _, wd := range r.Weekdays {
		weekdays = append(weekdays, int32(wd))
	}
	dates := make([]time.Time, 0, len(r.Dates))
	for _, d := range r.Dates {
		dates = append(dates, dateArg(d))
	}
	monthDays := make([]int32, 0, len(r.MonthDays))
	for _, md := range r.MonthDays {
		monthDays = append(monthDays, int32(md))
	}
	var until *time.Time
	if r.EffectiveUntil != nil {
		u := dateArg(*r.EffectiveUntil)
		until = &u
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO recurring_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			weekdays = EXCLUDED.weekdays,
			dates = EXCLUDED.dates,
			month_days = EXCLUDED.month_days,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			action = EXCLUDED.action,
			effective_from = EXCLUDED.effective_from,
			effective_until = EXCLUDED.effective_until,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, r.ID, r.ProviderID, r.Name, string(r.Kind), weekdays, dates, monthDays, r.Window.Start, r.Window.End,
		string(r.Action), dateArg(r.EffectiveFrom), until, r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

func (t *pgTx) UpsertException(ctx context.Context, e model.Exception) error {
	intervals := e.Intervals
	if intervals == nil {
		intervals = []interval.Interval{}
	}
	raw, err := json.Marshal(intervals)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO availability_exceptions (id, provider_id, exception_date, full_day, intervals, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id, exception_date) DO UPDATE
		SET full_day = EXCLUDED.full_day,
			intervals = EXCLUDED.intervals,
			reason = EXCLUDED.reason
	`, e.ID, e.ProviderID, dateArg(e.Date), e.FullDay, raw, e.Reason, e.CreatedAt)
	return err
}

func (t *pgTx) DeleteException(ctx context.Context, providerID string, date civil.Date) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM availability_exceptions
		WHERE provider_id = $1 AND exception_date = $2
	`, providerID, dateArg(date))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exception %s on %s: %w", providerID, date, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b model.BookingRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_requests (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, b.ID, b.ProviderID, b.ClientID, dateArg(b.Date), b.Start, b.Duration, b.Note, string(b.Status),
		b.BufferBefore, b.BufferAfter, b.RescheduledFrom, b.RescheduledTo,
		b.DeclineReason, b.CancelReason, b.CreatedAt, b.UpdatedAt)
	return err
}

func (t *pgTx) UpdateBooking(ctx context.Context, b model.BookingRequest) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE booking_requests
		SET status = $2,
			rescheduled_from = $3,
			rescheduled_to = $4,
			decline_reason = $5,
			cancel_reason = $6,
			updated_at = $7
		WHERE id = $1
	`, b.ID, string(b.Status), b.RescheduledFrom, b.RescheduledTo, b.DeclineReason, b.CancelReason, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendMessage(ctx context.Context, m model.BookingMessage) (model.BookingMessage, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO booking_messages (id, booking_id, seq, sender, author_id, body, created_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6
		FROM booking_messages
		WHERE booking_id = $2
		RETURNING seq
	`, m.ID, m.BookingID, string(m.Sender), m.AuthorID, m.Body, m.CreatedAt).Scan(&m.Seq)
	if err != nil {
		return model.BookingMessage{}, err
	}
	return m, nil
}

func (t *pgTx) AddEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

// dateArg encodes a civil date as midnight UTC, which pgx writes as a date.
func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}
