package domain

import (
	"testing"
	"time"
)

func TestWeekFromTime(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want Week
	}{
		{"exact boundary", time.Unix(1668643200, 0).UTC(), Week(1668643200)},
		{"mid week", time.Unix(1668643200+3*86400, 0).UTC(), Week(1668643200)},
		{"next week boundary", time.Unix(1668643200+WeekSeconds, 0).UTC(), Week(1668643200 + WeekSeconds)},
		{"one second before boundary", time.Unix(1668643200+WeekSeconds-1, 0).UTC(), Week(1668643200)},
	}
	for _, tc := range cases {
		if got := WeekFromTime(tc.in); got != tc.want {
			t.Errorf("%s: WeekFromTime(%v)=%d want %d", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestWeekNextPrevRoundTrip(t *testing.T) {
	w := Week(1668643200)
	if w.Next().Prev() != w {
		t.Fatalf("Next().Prev() did not round-trip: got %d want %d", w.Next().Prev(), w)
	}
	if w.Next() != w+WeekSeconds {
		t.Fatalf("Next() = %d, want %d", w.Next(), w+WeekSeconds)
	}
}

func TestWeekIsImmutable(t *testing.T) {
	w := Week(1668643200)
	end := w.End()

	notYet := end.Add(ImmutabilityMargin - time.Minute)
	if w.IsImmutable(notYet) {
		t.Fatalf("week should not be immutable %s before margin elapses", time.Minute)
	}

	justAfter := end.Add(ImmutabilityMargin + time.Minute)
	if !w.IsImmutable(justAfter) {
		t.Fatalf("week should be immutable once margin has elapsed")
	}
}

func TestLatestImmutableWeek(t *testing.T) {
	w := Week(1668643200)
	now := w.End().Add(ImmutabilityMargin + 2*time.Hour)
	if got := LatestImmutableWeek(now); got != w {
		t.Fatalf("LatestImmutableWeek(%v)=%d want %d", now, got, w)
	}
}

func TestWeekRange(t *testing.T) {
	first := Week(0)
	last := Week(3 * WeekSeconds)
	got := WeekRange(first, last)
	want := []Week{0, WeekSeconds, 2 * WeekSeconds, 3 * WeekSeconds}
	if len(got) != len(want) {
		t.Fatalf("WeekRange length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("WeekRange[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if r := WeekRange(last, first); r != nil {
		t.Fatalf("WeekRange with last < first should be empty, got %v", r)
	}
}

func TestReversed(t *testing.T) {
	in := []Week{1, 2, 3}
	got := Reversed(in)
	want := []Week{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Reversed[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	// original must be untouched
	if in[0] != 1 {
		t.Fatalf("Reversed mutated its input")
	}
}
