// Package availability resolves a provider's effective open intervals per
// date from business hours, recurring rules and exceptions.
package availability

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/recurrence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MaxRangeDays caps a single range query.
const MaxRangeDays = 366

const instrumentation = "github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/availability"

// Source is the read side the resolver needs. Both the store and an open
// transaction satisfy it.
type Source interface {
	GetProvider(ctx context.Context, providerID string) (model.Provider, error)
	ListBusinessHours(ctx context.Context, providerID string) ([]model.BusinessHours, error)
	ListRules(ctx context.Context, providerID string) ([]model.RecurringRule, error)
	ListExceptions(ctx context.Context, providerID string, from, to civil.Date) ([]model.Exception, error)
}

type Day struct {
	Date      civil.Date          `json:"date"`
	Intervals []interval.Interval `json:"intervals"`
}

// Layers is everything that contributes to a provider's availability.
type Layers struct {
	Hours      []model.BusinessHours
	Rules      []model.RecurringRule
	Exceptions []model.Exception
}

func ValidateRange(from, to civil.Date) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: invalid date range", model.ErrInvalidInput)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: range end %s before start %s", model.ErrInvalidInput, to, from)
	}
	if to.DaysSince(from) >= MaxRangeDays {
		return fmt.Errorf("%w: range longer than %d days", model.ErrInvalidInput, MaxRangeDays)
	}
	return nil
}

// Compute applies the precedence order to every date in [from, to]:
// a full-day exception closes the day, a replacement exception is returned
// as-is, otherwise business hours are unioned with available rules and
// blocked rules are cut out.
func Compute(l Layers, from, to civil.Date) ([]Day, error) {
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}

	exceptions := make(map[civil.Date]model.Exception, len(l.Exceptions))
	for _, e := range l.Exceptions {
		exceptions[e.Date] = e
	}
	hours := make(map[time.Weekday]interval.Interval, len(l.Hours))
	for _, h := range l.Hours {
		if h.Open {
			hours[h.Weekday] = h.Window
		}
	}
	opened := map[civil.Date][]interval.Interval{}
	blocked := map[civil.Date][]interval.Interval{}
	for _, rule := range l.Rules {
		for d, w := range recurrence.Expand(rule, from, to) {
			if rule.Action == model.ActionBlocked {
				blocked[d] = append(blocked[d], w)
			} else {
				opened[d] = append(opened[d], w)
			}
		}
	}

	days := make([]Day, 0, to.DaysSince(from)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		day := Day{Date: d, Intervals: []interval.Interval{}}
		if exc, ok := exceptions[d]; ok {
			if !exc.FullDay {
				set, err := interval.Normalize(exc.Intervals)
				if err != nil {
					return nil, fmt.Errorf("exception %s: %w", d, err)
				}
				day.Intervals = nonNil(set)
			}
			days = append(days, day)
			continue
		}

		base := opened[d]
		if w, ok := hours[model.Weekday(d)]; ok {
			base = append(base, w)
		}
		open, err := interval.Normalize(base)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", d, err)
		}
		open, err = interval.Subtract(open, blocked[d])
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", d, err)
		}
		day.Intervals = nonNil(open)
		days = append(days, day)
	}
	return days, nil
}

func nonNil(set []interval.Interval) []interval.Interval {
	if set == nil {
		return []interval.Interval{}
	}
	return set
}

// Resolver recomputes availability on every call; nothing is cached across
// mutations.
type Resolver struct {
	src      Source
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

func NewResolver(src Source) *Resolver {
	meter := otel.Meter(instrumentation)
	hist, _ := meter.Float64Histogram("availability_resolve_seconds",
		metric.WithDescription("Time spent resolving effective availability"),
		metric.WithUnit("s"),
	)
	return &Resolver{src: src, tracer: otel.Tracer(instrumentation), duration: hist}
}

func (r *Resolver) Resolve(ctx context.Context, providerID string, date civil.Date) ([]interval.Interval, error) {
	days, err := r.ResolveRange(ctx, providerID, date, date)
	if err != nil {
		return nil, err
	}
	return days[0].Intervals, nil
}

func (r *Resolver) ResolveRange(ctx context.Context, providerID string, from, to civil.Date) ([]Day, error) {
	ctx, span := r.tracer.Start(ctx, "availability.resolve", trace.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	defer span.End()
	started := time.Now()

	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}
	layers, err := LoadLayers(ctx, r.src, providerID, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	days, err := Compute(layers, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if r.duration != nil {
		r.duration.Record(ctx, time.Since(started).Seconds())
	}
	return days, nil
}

// LoadLayers fetches every layer for providerID, failing with model.ErrNotFound
// for an unknown provider.
func LoadLayers(ctx context.Context, src Source, providerID string, from, to civil.Date) (Layers, error) {
	if _, err := src.GetProvider(ctx, providerID); err != nil {
		return Layers{}, err
	}
	hours, err := src.ListBusinessHours(ctx, providerID)
	if err != nil {
		return Layers{}, fmt.Errorf("load business hours: %w", err)
	}
	rules, err := src.ListRules(ctx, providerID)
	if err != nil {
		return Layers{}, fmt.Errorf("load rules: %w", err)
	}
	exceptions, err := src.ListExceptions(ctx, providerID, from, to)
	if err != nil {
		return Layers{}, fmt.Errorf("load exceptions: %w", err)
	}
	return Layers{Hours: hours, Rules: rules, Exceptions: exceptions}, nil
}
