// Package interval implements half-open [Start, End) minute ranges within one
// provider-local calendar day and the set operations availability is built from.
//
// Every set returned by this package is sorted by start and contains no two
// intervals that overlap or touch.
package interval

import (
	"errors"
	"fmt"
	"slices"
)

// DayMinutes is the length of a calendar day; no interval crosses midnight.
const DayMinutes = 24 * 60

var ErrInvalidInterval = errors.New("invalid interval")

// Interval is [Start, End) in minutes after local midnight.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func New(start, end int) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Of builds the interval starting at start and lasting duration minutes.
func Of(start, duration int) (Interval, error) {
	if duration <= 0 {
		return Interval{}, fmt.Errorf("%w: duration must be positive (got %d)", ErrInvalidInterval, duration)
	}
	return New(start, start+duration)
}

func (iv Interval) Validate() error {
	switch {
	case iv.Start < 0:
		return fmt.Errorf("%w: start %d before midnight", ErrInvalidInterval, iv.Start)
	case iv.End > DayMinutes:
		return fmt.Errorf("%w: end %d crosses midnight", ErrInvalidInterval, iv.End)
	case iv.Start >= iv.End:
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidInterval, FormatClock(iv.Start), FormatClock(iv.End))
	}
	return nil
}

func (iv Interval) Len() int { return iv.End - iv.Start }

// Overlaps reports whether the two half-open intervals share at least one minute.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

func (iv Interval) Contains(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

// Pad widens the interval by before/after minutes, clamped to the day.
func (iv Interval) Pad(before, after int) Interval {
	out := Interval{Start: iv.Start - before, End: iv.End + after}
	if out.Start < 0 {
		out.Start = 0
	}
	if out.End > DayMinutes {
		out.End = DayMinutes
	}
	return out
}

func (iv Interval) String() string {
	return FormatClock(iv.Start) + "-" + FormatClock(iv.End)
}

// Normalize validates every member and returns the minimal sorted equivalent set.
func Normalize(set []Interval) ([]Interval, error) {
	for _, iv := range set {
		if err := iv.Validate(); err != nil {
			return nil, err
		}
	}
	return merge(set), nil
}

func merge(set []Interval) []Interval {
	if len(set) == 0 {
		return nil
	}
	sorted := slices.Clone(set)
	slices.SortFunc(sorted, func(a, b Interval) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.End - b.End
	})

	out := make([]Interval, 0, len(sorted))
	cur := sorted[0]
	for _, iv := range sorted[1:] {
		// Touching intervals merge as well as overlapping ones.
		if iv.Start <= cur.End {
			if iv.End > cur.End {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	return append(out, cur)
}

func Union(a, b []Interval) ([]Interval, error) {
	all := make([]Interval, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Normalize(all)
}

// Subtract returns the parts of a not covered by any interval in b.
func Subtract(a, b []Interval) ([]Interval, error) {
	na, err := Normalize(a)
	if err != nil {
		return nil, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return nil, err
	}

	var out []Interval
	j := 0
	for _, iv := range na {
		cur := iv
		// Skip cuts that end before this interval; b is sorted so they cannot matter later.
		for j < len(nb) && nb[j].End <= cur.Start {
			j++
		}
		k := j
		for k < len(nb) && nb[k].Start < cur.End {
			cut := nb[k]
			if cut.Start > cur.Start {
				out = append(out, Interval{Start: cur.Start, End: cut.Start})
			}
			if cut.End >= cur.End {
				cur.Start = cur.End
				break
			}
			cur.Start = cut.End
			k++
		}
		if cur.Start < cur.End {
			out = append(out, cur)
		}
	}
	return out, nil
}

func Intersect(a, b []Interval) ([]Interval, error) {
	na, err := Normalize(a)
	if err != nil {
		return nil, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return nil, err
	}

	var out []Interval
	i, j := 0, 0
	for i < len(na) && j < len(nb) {
		start := max(na[i].Start, nb[j].Start)
		end := min(na[i].End, nb[j].End)
		if start < end {
			out = append(out, Interval{Start: start, End: end})
		}
		if na[i].End < nb[j].End {
			i++
		} else {
			j++
		}
	}
	return merge(out), nil
}

// Within reports whether iv fits entirely inside a single member of set.
func Within(set []Interval, iv Interval) bool {
	for _, s := range set {
		if s.Contains(iv) {
			return true
		}
	}
	return false
}

// Total is the number of minutes covered by a normalized set.
func Total(set []Interval) int {
	n := 0
	for _, iv := range set {
		n += iv.Len()
	}
	return n
}
