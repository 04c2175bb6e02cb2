// Package backfill implements the weekly parallel backfill engine: it
// fetches immutable weekly bundles over a bounded worker pool and streams
// decoded pages to a single output channel. Worker-pool shape generalizes
// internal/ingester/service.go's fetchBatchParallel (parallel fetch,
// indexed work items, bounded concurrency) from a semaphore channel to
// errgroup.Group.SetLimit, the idiomatic errgroup equivalent, grounded on
// errgroup.WithContext usage in the wider example pack's dsort pipeline.
package backfill

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/metrics"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

const defaultPageBatch = 10_000

// Engine fetches every immutable week in [FirstWeek, now] from Src and
// streams decoded ops, in domain.ExportPage batches, to the channel passed
// to Run.
type Engine struct {
	Src         Source
	FirstWeek   domain.Week
	WorkerCount int
	PageBatch   int
	Now         func() time.Time
}

// New builds an Engine with sensible defaults.
func New(src Source, firstWeek domain.Week, workerCount int) *Engine {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Engine{
		Src:         src,
		FirstWeek:   firstWeek,
		WorkerCount: workerCount,
		PageBatch:   defaultPageBatch,
		Now:         time.Now,
	}
}

// Run fetches every immutable week, newest first, fanning the fetch out
// across WorkerCount goroutines, and sends decoded pages to out. It closes
// nothing; the caller owns out's lifetime. Run returns once every week has
// been fetched (or the first fetch error occurs, which cancels the rest).
func (e *Engine) Run(ctx context.Context, out chan<- domain.ExportPage) error {
	now := e.Now()
	lastWeek := domain.LatestImmutableWeek(now)
	weeks := domain.Reversed(domain.WeekRange(e.FirstWeek, lastWeek))

	if len(weeks) == 0 {
		log.Printf("[backfill] no immutable weeks to backfill before %s", lastWeek.Time())
		return nil
	}
	log.Printf("[backfill] backfilling %d weeks (%d..%d), %d workers", len(weeks), weeks[len(weeks)-1], weeks[0], e.WorkerCount)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.WorkerCount)

	for i, week := range weeks {
		week := week
		n := i + 1
		group.Go(func() error {
			if err := e.fetchWeek(gctx, week, out); err != nil {
				return fmt.Errorf("backfill week %d (%d/%d): %w", week, n, len(weeks), err)
			}
			log.Printf("[backfill] completed week %d (%d/%d)", week, n, len(weeks))
			return nil
		})
	}

	return group.Wait()
}

func (e *Engine) fetchWeek(ctx context.Context, week domain.Week, out chan<- domain.ExportPage) error {
	rc, err := e.Src.Open(ctx, week)
	if err != nil {
		return err
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	batch := make([]domain.Op, 0, e.PageBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		page := domain.ExportPage{Ops: batch}
		select {
		case out <- page:
		case <-ctx.Done():
			return ctx.Err()
		}
		metrics.PagesFetched.WithLabelValues("backfill").Inc()
		batch = make([]domain.Op, 0, e.PageBatch)
		return nil
	}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		metrics.BackfillBytesDecompressed.Add(float64(len(line) + 1))
		if len(line) == 0 {
			continue
		}
		op, err := domain.ParseOp(line)
		if err != nil {
			log.Printf("[backfill] skipping unparseable op in week %d: %v", week, err)
			continue
		}
		batch = append(batch, op)
		if len(batch) >= e.PageBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan bundle for week %d: %w", week, err)
	}
	return flush()
}
