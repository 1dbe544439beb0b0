package interval

import (
	"errors"
	"slices"
	"testing"
)

func iv(t *testing.T, start, end string) Interval {
	t.Helper()
	out, err := ParseRange(start, end)
	if err != nil {
		t.Fatalf("ParseRange(%s, %s): %v", start, end, err)
	}
	return out
}

func TestUnionMergesOverlappingAndAdjacent(t *testing.T) {
	got, err := Union(
		[]Interval{iv(t, "13:00", "14:00"), iv(t, "09:00", "10:00")},
		[]Interval{iv(t, "10:00", "11:00"), iv(t, "13:30", "15:00")},
	)
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	want := []Interval{iv(t, "09:00", "11:00"), iv(t, "13:00", "15:00")}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSubtractSplitsInterior(t *testing.T) {
	got, err := Subtract([]Interval{iv(t, "09:00", "17:00")}, []Interval{iv(t, "10:00", "11:00")})
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	want := []Interval{iv(t, "09:00", "10:00"), iv(t, "11:00", "17:00")}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSubtractEdgeCases(t *testing.T) {
	cases := []struct {
		name string
		a, b []Interval
		want []Interval
	}{
		{
			name: "cut covers start",
			a:    []Interval{{Start: 540, End: 1020}},
			b:    []Interval{{Start: 480, End: 600}},
			want: []Interval{{Start: 600, End: 1020}},
		},
		{
			name: "cut covers everything",
			a:    []Interval{{Start: 540, End: 600}},
			b:    []Interval{{Start: 0, End: DayMinutes}},
			want: nil,
		},
		{
			name: "cut spans two intervals",
			a:    []Interval{{Start: 540, End: 720}, {Start: 780, End: 1020}},
			b:    []Interval{{Start: 700, End: 800}},
			want: []Interval{{Start: 540, End: 700}, {Start: 800, End: 1020}},
		},
		{
			name: "several cuts inside one interval",
			a:    []Interval{{Start: 540, End: 1020}},
			b:    []Interval{{Start: 600, End: 660}, {Start: 720, End: 780}},
			want: []Interval{{Start: 540, End: 600}, {Start: 660, End: 720}, {Start: 780, End: 1020}},
		},
		{
			name: "touching cut leaves interval intact",
			a:    []Interval{{Start: 540, End: 600}},
			b:    []Interval{{Start: 600, End: 660}},
			want: []Interval{{Start: 540, End: 600}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Subtract(tc.a, tc.b)
			if err != nil {
				t.Fatalf("Subtract: %v", err)
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIntersect(t *testing.T) {
	got, err := Intersect(
		[]Interval{iv(t, "09:00", "12:00"), iv(t, "13:00", "17:00")},
		[]Interval{iv(t, "11:00", "14:00")},
	)
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	want := []Interval{iv(t, "11:00", "12:00"), iv(t, "13:00", "14:00")}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestZeroLengthRejected(t *testing.T) {
	if _, err := New(600, 600); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := Union([]Interval{{Start: 600, End: 600}}, nil); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval from Union, got %v", err)
	}
	if _, err := Of(23*60+30, 60); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected interval crossing midnight to be rejected, got %v", err)
	}
	if _, err := Of(600, 0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected zero duration to be rejected, got %v", err)
	}
}

func TestSubtractThenUnionRestoresOriginal(t *testing.T) {
	avail := []Interval{iv(t, "09:00", "12:00"), iv(t, "13:00", "17:00")}
	busy := []Interval{iv(t, "08:30", "09:30"), iv(t, "11:00", "13:30"), iv(t, "15:00", "15:15")}

	free, err := Subtract(avail, busy)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	covered, err := Intersect(avail, busy)
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	back, err := Union(free, covered)
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if !slices.Equal(back, avail) {
		t.Fatalf("expected %v, got %v", avail, back)
	}
}

func TestPadClampsToDay(t *testing.T) {
	got := Interval{Start: 10, End: 1430}.Pad(30, 30)
	if got.Start != 0 || got.End != DayMinutes {
		t.Fatalf("expected clamped [0,1440), got %v", got)
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]int{"00:00": 0, "09:30": 570, "24:00": 1440, "7:05": 425}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil || got != want {
			t.Fatalf("ParseClock(%q): expected %d, got %d (%v)", in, want, got, err)
		}
	}
	for _, bad := range []string{"", "9", "25:00", "24:30", "12:60", "ab:cd", "12:5"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q): expected error", bad)
		}
	}
	if FormatClock(570) != "09:30" {
		t.Fatalf("expected 09:30, got %s", FormatClock(570))
	}
}
