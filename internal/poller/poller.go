// Package poller implements the boundary-deduplicating live poller: it
// repeatedly re-requests the upstream export endpoint "after" the latest
// timestamp seen so far, filtering out anything already emitted at that
// exact boundary. Shape (poll-once, then enter a ticker loop selecting on
// ctx.Done()) is grounded on internal/ingester/network_poller.go's
// NetworkPoller.Start.
package poller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/httpclient"
	"github.com/at-microcosm/plcmirror/internal/metrics"
)

const defaultPageLimit = 1000

// Poller polls a single upstream export endpoint and emits deduplicated
// pages onto out.
type Poller struct {
	Client   *httpclient.Client
	BaseURL  string // e.g. "https://plc.directory/export"
	Interval time.Duration
	PageSize int

	boundary domain.PageBoundaryState
}

// New constructs a Poller against baseURL, polling every interval.
func New(client *httpclient.Client, baseURL string, interval time.Duration) *Poller {
	return &Poller{
		Client:   client,
		BaseURL:  baseURL,
		Interval: interval,
		PageSize: defaultPageLimit,
	}
}

// Run polls forever starting "after" the given resume timestamp (the zero
// Value means start from the beginning of time, a full live tail), sending
// deduplicated pages to out, until ctx is cancelled or a fatal error
// (including ErrTimeWentBackwards) occurs. The send prefers non-blocking,
// falling back to a blocking send and logging when out is full — matching
// the teacher's "try non-blocking, then log and block" channel-send idiom.
func (p *Poller) Run(ctx context.Context, after time.Time, out chan<- domain.ExportPage) error {
	log.Printf("[poller] starting against %s (interval %s, after %s)", p.BaseURL, p.Interval, after)

	p.boundary = domain.NewPageBoundaryState()
	p.boundary.LastAt = after

	if err := p.tick(ctx, out); err != nil {
		return err
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[poller] stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx, out); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context, out chan<- domain.ExportPage) error {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	page, err := p.fetchPage(fetchCtx)
	if err != nil {
		return fmt.Errorf("poller fetch: %w", err)
	}
	metrics.PagesFetched.WithLabelValues("poller").Inc()

	fresh, next, err := p.boundary.Advance(page)
	if err != nil {
		return fmt.Errorf("poller boundary violated: %w", err)
	}
	p.boundary = next

	if dropped := len(page.Ops) - len(fresh); dropped > 0 {
		metrics.OpsDeduplicated.Add(float64(dropped))
	}

	if len(fresh) == 0 {
		return nil
	}

	freshPage := domain.ExportPage{Ops: fresh}
	select {
	case out <- freshPage:
	default:
		log.Printf("[poller] output channel full, blocking (%d ops)", len(fresh))
		select {
		case out <- freshPage:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Poller) fetchPage(ctx context.Context) (domain.ExportPage, error) {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return domain.ExportPage{}, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.PageSize))
	if !p.boundary.LastAt.IsZero() {
		q.Set("after", p.boundary.LastAt.UTC().Format(time.RFC3339Nano))
	}
	u.RawQuery = q.Encode()

	resp, err := p.Client.Get(ctx, u.String())
	if err != nil {
		return domain.ExportPage{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ExportPage{}, fmt.Errorf("read export body: %w", err)
	}

	return parseExportBody(body), nil
}

// parseExportBody splits an export response into individual Op JSON
// records. Upstream sometimes emits back-to-back objects on one line with
// no separator; normalize "}{" into "}\n{" before splitting, matching the
// upstream's own newline-or-concatenated-object quirk.
func parseExportBody(body []byte) domain.ExportPage {
	normalized := bytes.ReplaceAll(body, []byte("}{"), []byte("}\n{"))
	lines := bytes.Split(normalized, []byte("\n"))

	ops := make([]domain.Op, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		op, err := domain.ParseOp(line)
		if err != nil {
			log.Printf("[poller] skipping unparseable op: %v", err)
			continue
		}
		ops = append(ops, op)
	}
	return domain.ExportPage{Ops: ops}
}
