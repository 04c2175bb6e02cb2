// Package pipeline wires the backfill engine, poller, and store together
// into the two-phase catch-up pipeline: a bulk backfill phase feeding the
// bulk loader, handing off to a steady-state poll/apply phase as soon as a
// resume cursor is known.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/at-microcosm/plcmirror/internal/domain"
)

// fullPageThreshold is the page-size heuristic for "upstream still has a
// full page of history buffered" — below this, the page is probably the
// tail of the live log rather than a backlog page.
//
// A more principled test would ask upstream for its current head time and
// compare; the size heuristic is what's specified and is cheap, so that's
// what ships.
const fullPageThreshold = 900

// maxCatchUpLag is how old the last op in a short page is allowed to be
// before FullPagesFilter treats catch-up as incomplete (warns and stops)
// rather than caught up (stops cleanly).
const maxCatchUpLag = 6 * time.Hour

// ErrUpstreamClosedEarly is returned when the input channel closes while
// FullPagesFilter is still expecting full pages — i.e. the poller/backfill
// stage ended (error or shutdown) before catch-up actually finished.
var ErrUpstreamClosedEarly = fmt.Errorf("upstream channel closed while still expecting full pages")

// FullPagesFilter forwards pages from in to out for as long as the source
// still appears to be returning full backlog pages, then stops cleanly once
// it detects the source has caught up to the live tail. now defaults to
// time.Now when nil.
func FullPagesFilter(in <-chan domain.ExportPage, out chan<- domain.ExportPage, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	for page := range in {
		if len(page.Ops) == 0 {
			log.Printf("[pipeline] empty page: caught up")
			return nil
		}

		if len(page.Ops) >= fullPageThreshold {
			out <- page
			continue
		}

		last := page.Ops[len(page.Ops)-1]
		age := now().Sub(last.CreatedAt)

		if age <= maxCatchUpLag {
			log.Printf("[pipeline] short page (%d ops), last op %s old: caught up", len(page.Ops), age.Round(time.Second))
			return nil
		}

		log.Printf("[pipeline] warn: short page (%d ops) but last op is %s old, still behind: stopping", len(page.Ops), age.Round(time.Second))
		return nil
	}

	return ErrUpstreamClosedEarly
}
