package domain

import "time"

// WeekSeconds is the width of one backfill bundle, in seconds.
const WeekSeconds = 7 * 86400

// ImmutabilityMargin is how long after a week ends the upstream directory
// guarantees no more nullifications can land inside it. PLC operations can
// be invalidated within 72 hours, so 73 hours gives a one-hour buffer.
const ImmutabilityMargin = 73 * time.Hour

// Week identifies a 604,800-second-aligned window by its starting unix
// timestamp. Bundle files are named "<week>.jsonl.gz".
type Week int64

// WeekFromTime floors t to the start of the week it falls in.
func WeekFromTime(t time.Time) Week {
	sec := t.Unix()
	return Week((sec / WeekSeconds) * WeekSeconds)
}

// Time returns the instant this week begins.
func (w Week) Time() time.Time {
	return time.Unix(int64(w), 0).UTC()
}

// Next returns the following week.
func (w Week) Next() Week {
	return w + WeekSeconds
}

// Prev returns the preceding week.
func (w Week) Prev() Week {
	return w - WeekSeconds
}

// End returns the instant this week ends (exclusive), i.e. the start of
// the next week.
func (w Week) End() time.Time {
	return w.Next().Time()
}

// IsImmutable reports whether this week's bundle can no longer change as
// of now: its end must be at least ImmutabilityMargin in the past.
func (w Week) IsImmutable(now time.Time) bool {
	return now.Sub(w.End()) >= ImmutabilityMargin
}

// LatestImmutableWeek returns the most recent week that is guaranteed
// immutable as of now. WeekFromTime(cutoff) is the week the cutoff instant
// falls in, which still has time left before its own end plus the margin
// elapses, so it isn't immutable yet; the latest immutable week is the one
// before it.
func LatestImmutableWeek(now time.Time) Week {
	cutoff := now.Add(-ImmutabilityMargin)
	return WeekFromTime(cutoff).Prev()
}

// WeekRange returns every week from first through last (inclusive),
// ordered oldest-first. If last < first, the result is empty.
func WeekRange(first, last Week) []Week {
	if last < first {
		return nil
	}
	n := int((last-first)/WeekSeconds) + 1
	weeks := make([]Week, n)
	for i := range weeks {
		weeks[i] = first + Week(i*WeekSeconds)
	}
	return weeks
}

// Reversed returns a copy of weeks in reverse order. The backfill engine
// works newest-immutable-week-first so that recently closed weeks (most
// likely to be needed by a resuming mirror) are fetched early.
func Reversed(weeks []Week) []Week {
	out := make([]Week, len(weeks))
	for i, w := range weeks {
		out[len(weeks)-1-i] = w
	}
	return out
}
