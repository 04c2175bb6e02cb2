package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/store"
)

// Channel sizes mirror the bounded-resource model: bulk pages (up to
// ~10,000 ops each) get 32 slots, catch-up pages (up to 1,000 ops each) get
// 128, and the filter/handoff channels hold a single value.
const (
	BulkPageBuffer    = 32
	CatchUpPageBuffer = 128
	FilteredBuffer    = 1
	LastAtBuffer      = 1
)

// BackfillSource fetches historical pages. *backfill.Engine satisfies this.
type BackfillSource interface {
	Run(ctx context.Context, out chan<- domain.ExportPage) error
}

// LiveSource polls for new pages starting after a resume timestamp.
// *poller.Poller satisfies this.
type LiveSource interface {
	Run(ctx context.Context, after time.Time, out chan<- domain.ExportPage) error
}

// Orchestrator wires a backfill source and a live source into one store,
// running Phase A (backfill) and Phase B (catch-up) under a single
// errgroup.Group so a failure or panic in any stage cancels the rest —
// generalized from internal/ingester/service.go's WaitGroup+channel fetch
// loop to errgroup's stronger "first error wins" supervision, matching the
// wider pack's errgroup.WithContext task-group idiom.
type Orchestrator struct {
	Backfill BackfillSource
	Live     LiveSource
	Store    *store.Store

	// SkipBackfill, when true, starts directly in steady-state mode
	// (used when the store already has data, i.e. a resuming mirror).
	SkipBackfill bool
}

// Run executes the full pipeline until ctx is cancelled or a stage returns
// a fatal error.
func (o *Orchestrator) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	lastAt := make(chan time.Time, LastAtBuffer)

	if o.SkipBackfill {
		latest, _, err := o.Store.LatestCreatedAt(ctx)
		if err != nil {
			return fmt.Errorf("resolve resume cursor: %w", err)
		}
		lastAt <- latest
	} else {
		bulkPages := make(chan domain.ExportPage, BulkPageBuffer)

		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("backfill stage panicked: %v", r)
				}
			}()
			defer close(bulkPages)
			return o.Backfill.Run(gctx, bulkPages)
		})

		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("bulk loader stage panicked: %v", r)
				}
			}()
			return o.Store.Backfill(gctx, bulkPages, false, lastAt)
		})
	}

	catchUpPages := make(chan domain.ExportPage, CatchUpPageBuffer)
	filteredPages := make(chan domain.ExportPage, FilteredBuffer)

	group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("poller stage panicked: %v", r)
			}
		}()
		defer close(catchUpPages)

		var after time.Time
		select {
		case after = <-lastAt:
		case <-gctx.Done():
			return gctx.Err()
		}

		log.Printf("[pipeline] starting catch-up poll from %s", after)
		return o.Live.Run(gctx, after, catchUpPages)
	})

	group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("full-pages filter panicked: %v", r)
			}
		}()
		defer close(filteredPages)
		return FullPagesFilter(catchUpPages, filteredPages, nil)
	})

	group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("steady-state loader panicked: %v", r)
			}
		}()
		for page := range filteredPages {
			if _, _, err := o.Store.ApplyPage(gctx, page); err != nil {
				return fmt.Errorf("apply page: %w", err)
			}
		}
		return nil
	})

	return group.Wait()
}
