package domain

import (
	"errors"
	"time"
)

// ErrTimeWentBackwards is returned when a page reports a createdAt earlier
// than the current boundary or earlier than the op before it in the same
// page. The export protocol guarantees non-decreasing timestamps within and
// across pages; violating that is a fatal upstream inconsistency, not a
// recoverable condition.
var ErrTimeWentBackwards = errors.New("op createdAt went backwards")

// PageBoundaryState tracks what has already been emitted at the current
// "after" timestamp, so that a poller re-requesting the same boundary can
// tell which rows at that exact instant were already seen and which are
// new. This is the dedup state from the boundary algorithm: LastAt is the
// most recent createdAt emitted, and KeysAt holds every key emitted at
// exactly LastAt (there may be several, since createdAt has finite
// resolution and many ops can share an instant).
type PageBoundaryState struct {
	LastAt time.Time
	KeysAt map[OpKey]struct{}
}

// NewPageBoundaryState returns a zero-value starting state: no ops seen
// yet, so nothing is filtered from the first page.
func NewPageBoundaryState() PageBoundaryState {
	return PageBoundaryState{KeysAt: make(map[OpKey]struct{})}
}

// Advance filters a freshly fetched page against the boundary state and
// returns the ops that are genuinely new, plus the updated state to use
// for the next fetch. It implements the boundary-dedup algorithm:
//
//  1. Any op with CreatedAt before LastAt, or before the previous op in
//     the same page, is impossible (upstream ordering violation) and
//     returns ErrTimeWentBackwards.
//  2. Ops with CreatedAt exactly equal to LastAt are new only if their key
//     is not already in KeysAt — they are the tail of the previous
//     boundary, re-sent because the poller re-requested "after LastAt"
//     inclusive of ties.
//  3. Ops with CreatedAt after LastAt are always new.
//  4. The returned state's KeysAt holds every key whose CreatedAt equals
//     the new LastAt (the max CreatedAt seen in this page, or the previous
//     LastAt if the page was empty). If the new LastAt is unchanged from
//     the old one, the page's keys at that instant are added to the
//     existing KeysAt rather than replacing it, since ops already tracked
//     there may not appear again in a later page at the same boundary.
func (s PageBoundaryState) Advance(page ExportPage) ([]Op, PageBoundaryState, error) {
	fresh := make([]Op, 0, len(page.Ops))
	newLastAt := s.LastAt
	newKeys := make(map[OpKey]struct{})
	prev := s.LastAt

	for _, op := range page.Ops {
		if op.CreatedAt.Before(prev) {
			return nil, s, ErrTimeWentBackwards
		}
		prev = op.CreatedAt

		switch {
		case op.CreatedAt.Equal(s.LastAt):
			if _, seen := s.KeysAt[op.Key()]; seen {
				continue
			}
			fresh = append(fresh, op)
		default:
			fresh = append(fresh, op)
		}

		switch {
		case op.CreatedAt.After(newLastAt):
			newLastAt = op.CreatedAt
			newKeys = map[OpKey]struct{}{op.Key(): {}}
		case op.CreatedAt.Equal(newLastAt):
			newKeys[op.Key()] = struct{}{}
		}
	}

	switch {
	case len(page.Ops) == 0:
		// nothing to advance; carry the boundary keys forward unchanged
		newKeys = s.KeysAt
	case newLastAt.Equal(s.LastAt):
		// boundary didn't move: union this page's tied keys into the
		// existing set instead of dropping whatever isn't re-sent.
		for k := range s.KeysAt {
			newKeys[k] = struct{}{}
		}
	}

	return fresh, PageBoundaryState{LastAt: newLastAt, KeysAt: newKeys}, nil
}
