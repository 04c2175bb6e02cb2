package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/at-microcosm/plcmirror/internal/domain"
)

func makePage(n int, lastAge time.Duration, now time.Time) domain.ExportPage {
	ops := make([]domain.Op, n)
	for i := range ops {
		ops[i] = domain.Op{DID: "did:plc:x", CID: "c", CreatedAt: now.Add(-lastAge)}
	}
	return domain.ExportPage{Ops: ops}
}

func runFilter(t *testing.T, pages []domain.ExportPage, now time.Time) ([]domain.ExportPage, error) {
	t.Helper()
	in := make(chan domain.ExportPage, len(pages))
	out := make(chan domain.ExportPage, len(pages))
	for _, p := range pages {
		in <- p
	}
	close(in)

	err := FullPagesFilter(in, out, func() time.Time { return now })
	close(out)

	var got []domain.ExportPage
	for p := range out {
		got = append(got, p)
	}
	return got, err
}

func TestFullPagesFilter_ForwardsFullPages(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	pages := []domain.ExportPage{
		makePage(fullPageThreshold, 0, now),
		makePage(fullPageThreshold, 0, now),
	}
	got, err := runFilter(t, pages, now)
	// Input closes while every page seen so far looked like backlog (>= the
	// full-page threshold); FullPagesFilter correctly treats that as the
	// upstream stage ending before catch-up actually finished.
	if !errors.Is(err, ErrUpstreamClosedEarly) {
		t.Fatalf("expected ErrUpstreamClosedEarly, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both full pages forwarded, got %d", len(got))
	}
}

func TestFullPagesFilter_ShortRecentPageStopsCleanlyWithoutForwarding(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	pages := []domain.ExportPage{
		makePage(fullPageThreshold, 0, now),
		makePage(5, time.Minute, now), // recent: caught up
	}
	got, err := runFilter(t, pages, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("the short terminal page should not itself be forwarded, got %d pages", len(got))
	}
}

func TestFullPagesFilter_ShortStalePageWarnsAndStops(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	pages := []domain.ExportPage{
		makePage(5, 2*maxCatchUpLag, now), // short but stale: upstream is behind
		makePage(fullPageThreshold, 0, now),
	}
	got, err := runFilter(t, pages, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("a stale short page should stop the filter before any page is forwarded, got %d", len(got))
	}
}

func TestFullPagesFilter_EmptyPageStopsCleanly(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	pages := []domain.ExportPage{
		makePage(fullPageThreshold, 0, now),
		{},
	}
	got, err := runFilter(t, pages, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("empty page itself should not be forwarded, got %d pages", len(got))
	}
}
