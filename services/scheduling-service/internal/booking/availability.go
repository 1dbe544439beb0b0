package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/recurrence"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

type availabilityChanged struct {
	ProviderID string      `json:"provider_id"`
	Change     string      `json:"change"`
	RuleID     string      `json:"rule_id,omitempty"`
	Date       *civil.Date `json:"date,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e *Engine) emitAvailability(ctx context.Context, tx storage.Tx, c availabilityChanged) error {
	c.OccurredAt = e.now().UTC()
	return e.emit(ctx, tx, outbox.AggregateProvider, c.ProviderID, outbox.EventAvailabilityChanged, c)
}

// UpsertProvider saves timezone and buffer settings. Buffers apply to
// bookings submitted afterwards; existing bookings keep theirs.
func (e *Engine) UpsertProvider(ctx context.Context, p model.Provider) (saved model.Provider, err error) {
	ctx, span := e.startSpan(ctx, "upsert_provider", attribute.String("provider_id", p.ID))
	defer func() { end(span, err) }()

	p.ID = strings.TrimSpace(p.ID)
	p.Timezone = strings.TrimSpace(p.Timezone)
	if p.Timezone == "" {
		p.Timezone = e.defaults.Timezone
	}
	if err := p.Validate(); err != nil {
		return model.Provider{}, err
	}
	p.UpdatedAt = e.now().UTC()
	err = e.withProvider(ctx, p.ID, func(tx storage.Tx) error {
		if err := tx.UpsertProvider(ctx, p); err != nil {
			return fmt.Errorf("upsert provider: %w", err)
		}
		return e.emitAvailability(ctx, tx, availabilityChanged{ProviderID: p.ID, Change: "settings"})
	})
	if err != nil {
		return model.Provider{}, err
	}
	return p, nil
}

// SetBusinessHours sets one weekday of the weekly schedule. A closed day
// ignores window.
func (e *Engine) SetBusinessHours(ctx context.Context, providerID string, weekday time.Weekday, open bool, window interval.Interval) (model.BusinessHours, error) {
	week, err := e.SetWeeklyHours(ctx, providerID, []model.BusinessHours{{Weekday: weekday, Open: open, Window: window}})
	if err != nil {
		return model.BusinessHours{}, err
	}
	return week[0], nil
}

// SetWeeklyHours applies several weekdays in one transaction.
func (e *Engine) SetWeeklyHours(ctx context.Context, providerID string, hours []model.BusinessHours) (saved []model.BusinessHours, err error) {
	ctx, span := e.startSpan(ctx, "set_business_hours", attribute.String("provider_id", providerID))
	defer func() { end(span, err) }()

	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id required", model.ErrInvalidInput)
	}
	if len(hours) == 0 {
		return nil, fmt.Errorf("%w: no business hours given", model.ErrInvalidInput)
	}
	seen := map[time.Weekday]bool{}
	for i, h := range hours {
		if h.Weekday < time.Sunday || h.Weekday > time.Saturday {
			return nil, fmt.Errorf("%w: weekday %d out of range", model.ErrInvalidInput, h.Weekday)
		}
		if seen[h.Weekday] {
			return nil, fmt.Errorf("%w: weekday %s given twice", model.ErrInvalidInput, h.Weekday)
		}
		seen[h.Weekday] = true
		if h.Open {
			if err := h.Window.Validate(); err != nil {
				return nil, err
			}
		} else {
			hours[i].Window = interval.Interval{}
		}
		hours[i].ProviderID = providerID
	}

	err = e.withProvider(ctx, providerID, func(tx storage.Tx) error {
		if _, err := e.ensureProvider(ctx, tx, providerID); err != nil {
			return err
		}
		for _, h := range hours {
			if err := tx.UpsertBusinessHours(ctx, h); err != nil {
				return fmt.Errorf("upsert business hours: %w", err)
			}
		}
		return e.emitAvailability(ctx, tx, availabilityChanged{ProviderID: providerID, Change: "business_hours"})
	})
	if err != nil {
		return nil, err
	}
	return hours, nil
}

// UpsertRuleResult carries the saved rule and any same-action active rules
// it shares time with. Overlaps are informational; the windows are unioned.
type UpsertRuleResult struct {
	Rule     model.RecurringRule   `json:"rule"`
	Overlaps []model.OverlapNotice `json:"overlaps,omitempty"`
}

// UpsertRecurringRule creates a rule when r.ID is empty and replaces the
// stored rule otherwise. An empty action means available.
func (e *Engine) UpsertRecurringRule(ctx context.Context, r model.RecurringRule) (res UpsertRuleResult, err error) {
	ctx, span := e.startSpan(ctx, "upsert_rule", attribute.String("provider_id", r.ProviderID))
	defer func() { end(span, err) }()

	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.Name = strings.TrimSpace(r.Name)
	if r.ProviderID == "" {
		return UpsertRuleResult{}, fmt.Errorf("%w: provider id required", model.ErrInvalidInput)
	}
	if r.Action == "" {
		r.Action = model.ActionAvailable
	}
	if err := r.Validate(); err != nil {
		return UpsertRuleResult{}, err
	}

	err = e.withProvider(ctx, r.ProviderID, func(tx storage.Tx) error {
		if _, err := e.ensureProvider(ctx, tx, r.ProviderID); err != nil {
			return err
		}
		now := e.now().UTC()
		if r.ID == "" {
			r.ID = uuid.NewString()
			r.CreatedAt = now
		} else {
			existing, err := tx.GetRule(ctx, r.ID)
			if err != nil {
				return err
			}
			if existing.ProviderID != r.ProviderID {
				return fmt.Errorf("rule %s: %w", r.ID, model.ErrNotFound)
			}
			r.CreatedAt = existing.CreatedAt
		}
		r.UpdatedAt = now
		if err := tx.UpsertRule(ctx, r); err != nil {
			return fmt.Errorf("upsert rule: %w", err)
		}

		others, err := tx.ListRules(ctx, r.ProviderID)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		res = UpsertRuleResult{Rule: r}
		for _, other := range others {
			if other.ID == r.ID || other.Action != r.Action {
				continue
			}
			if recurrence.Overlaps(r, other) {
				res.Overlaps = append(res.Overlaps, model.OverlapNotice{RuleID: r.ID, OtherID: other.ID})
			}
		}
		return e.emitAvailability(ctx, tx, availabilityChanged{ProviderID: r.ProviderID, Change: "rule", RuleID: r.ID})
	})
	if err != nil {
		return UpsertRuleResult{}, err
	}
	for _, n := range res.Overlaps {
		e.logger.InfoContext(ctx, "recurring rules overlap", "provider_id", r.ProviderID, "err", n)
	}
	return res, nil
}

// DeactivateRecurringRule soft-deletes a rule. Deactivating an inactive rule
// returns it unchanged.
func (e *Engine) DeactivateRecurringRule(ctx context.Context, providerID, ruleID string) (rule model.RecurringRule, err error) {
	ctx, span := e.startSpan(ctx, "deactivate_rule", attribute.String("provider_id", providerID), attribute.String("rule_id", ruleID))
	defer func() { end(span, err) }()

	err = e.withProvider(ctx, providerID, func(tx storage.Tx) error {
		r, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if r.ProviderID != providerID {
			return fmt.Errorf("rule %s: %w", ruleID, model.ErrNotFound)
		}
		rule = r
		if !r.Active {
			return nil
		}
		rule.Active = false
		rule.UpdatedAt = e.now().UTC()
		if err := tx.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("deactivate rule: %w", err)
		}
		return e.emitAvailability(ctx, tx, availabilityChanged{ProviderID: providerID, Change: "rule", RuleID: ruleID})
	})
	if err != nil {
		return model.RecurringRule{}, err
	}
	return rule, nil
}

// AddException sets the override for one date, replacing any earlier one.
// Replacement intervals are stored normalized.
func (e *Engine) AddException(ctx context.Context, ex model.Exception) (saved model.Exception, err error) {
	ctx, span := e.startSpan(ctx, "add_exception", attribute.String("provider_id", ex.ProviderID))
	defer func() { end(span, err) }()

	ex.ProviderID = strings.TrimSpace(ex.ProviderID)
	ex.Reason = strings.TrimSpace(ex.Reason)
	if ex.ProviderID == "" {
		return model.Exception{}, fmt.Errorf("%w: provider id required", model.ErrInvalidInput)
	}
	if err := ex.Validate(); err != nil {
		return model.Exception{}, err
	}
	if !ex.FullDay {
		normalized, err := interval.Normalize(ex.Intervals)
		if err != nil {
			return model.Exception{}, err
		}
		ex.Intervals = normalized
	}

	err = e.withProvider(ctx, ex.ProviderID, func(tx storage.Tx) error {
		if _, err := e.ensureProvider(ctx, tx, ex.ProviderID); err != nil {
			return err
		}
		existing, err := tx.ListExceptions(ctx, ex.ProviderID, ex.Date, ex.Date)
		if err != nil {
			return fmt.Errorf("load exceptions: %w", err)
		}
		if len(existing) > 0 {
			ex.ID = existing[0].ID
			ex.CreatedAt = existing[0].CreatedAt
		} else {
			ex.ID = uuid.NewString()
			ex.CreatedAt = e.now().UTC()
		}
		if err := tx.UpsertException(ctx, ex); err != nil {
			return fmt.Errorf("upsert exception: %w", err)
		}
		date := ex.Date
		return e.emitAvailability(ctx, tx, availabilityChanged{ProviderID: ex.ProviderID, Change: "exception", Date: &date})
	})
	if err != nil {
		return model.Exception{}, err
	}
	return ex, nil
}

func (e *Engine) RemoveException(ctx context.Context, providerID string, date civil.Date) (err error) {
	ctx, span := e.startSpan(ctx, "remove_exception", attribute.String("provider_id", providerID))
	defer func() { end(span, err) }()

	if !date.IsValid() {
		return fmt.Errorf("%w: invalid date", model.ErrInvalidInput)
	}
	return e.withProvider(ctx, providerID, func(tx storage.Tx) error {
		if err := tx.DeleteException(ctx, providerID, date); err != nil {
			return err
		}
		return e.emitAvailability(ctx, tx, availabilityChanged{ProviderID: providerID, Change: "exception", Date: &date})
	})
}

// GetProvider returns stored settings, or the defaults a first mutation would
// create when the provider is unknown.
func (e *Engine) GetProvider(ctx context.Context, providerID string) (model.Provider, bool, error) {
	p, err := e.store.GetProvider(ctx, providerID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Provider{
			ID:           providerID,
			Timezone:     e.defaults.Timezone,
			BufferBefore: e.defaults.BufferBefore,
			BufferAfter:  e.defaults.BufferAfter,
		}, false, nil
	}
	if err != nil {
		return model.Provider{}, false, err
	}
	return p, true, nil
}

func (e *Engine) ListBusinessHours(ctx context.Context, providerID string) ([]model.BusinessHours, error) {
	return e.store.ListBusinessHours(ctx, providerID)
}

func (e *Engine) ListRules(ctx context.Context, providerID string) ([]model.RecurringRule, error) {
	return e.store.ListRules(ctx, providerID)
}

func (e *Engine) ListExceptions(ctx context.Context, providerID string, from, to civil.Date) ([]model.Exception, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	return e.store.ListExceptions(ctx, providerID, from, to)
}
