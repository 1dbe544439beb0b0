// Package recurrence expands recurring availability rules into concrete
// (date, interval) occurrences.
package recurrence

import (
	"iter"
	"slices"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

// overlapHorizonDays bounds the scan for open-ended rules; every weekday and
// day-of-month combination repeats within it.
const overlapHorizonDays = 400

// Matches reports whether rule produces its window on d.
func Matches(rule model.RecurringRule, d civil.Date) bool {
	if !rule.Active || !inEffect(rule, d) {
		return false
	}
	switch rule.Kind {
	case model.RuleWeekdays:
		return slices.Contains(rule.Weekdays, model.Weekday(d))
	case model.RuleDates:
		return slices.Contains(rule.Dates, d)
	case model.RuleMonthly:
		return slices.Contains(rule.MonthDays, d.Day)
	}
	return false
}

func inEffect(rule model.RecurringRule, d civil.Date) bool {
	if d.Before(rule.EffectiveFrom) {
		return false
	}
	return rule.EffectiveUntil == nil || !d.After(*rule.EffectiveUntil)
}

// Expand yields one (date, window) pair per day in [from, to] on which rule
// applies. The sequence is lazy and can be ranged over any number of times.
func Expand(rule model.RecurringRule, from, to civil.Date) iter.Seq2[civil.Date, interval.Interval] {
	return func(yield func(civil.Date, interval.Interval) bool) {
		if !rule.Active || to.Before(from) {
			return
		}
		start, end := from, to
		if start.Before(rule.EffectiveFrom) {
			start = rule.EffectiveFrom
		}
		if rule.EffectiveUntil != nil && rule.EffectiveUntil.Before(end) {
			end = *rule.EffectiveUntil
		}
		for d := start; !d.After(end); d = d.AddDays(1) {
			if !Matches(rule, d) {
				continue
			}
			if !yield(d, rule.Window) {
				return
			}
		}
	}
}

// Overlaps reports whether a and b are both active and open or block the same
// minute on at least one shared date.
func Overlaps(a, b model.RecurringRule) bool {
	if !a.Active || !b.Active || !a.Window.Overlaps(b.Window) {
		return false
	}
	from := a.EffectiveFrom
	if from.Before(b.EffectiveFrom) {
		from = b.EffectiveFrom
	}
	to := from.AddDays(overlapHorizonDays)
	for _, until := range []*civil.Date{a.EffectiveUntil, b.EffectiveUntil} {
		if until != nil && until.Before(to) {
			to = *until
		}
	}
	for d := range Expand(a, from, to) {
		if Matches(b, d) {
			return true
		}
	}
	return false
}
