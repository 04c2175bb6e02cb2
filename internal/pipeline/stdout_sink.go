package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/at-microcosm/plcmirror/internal/domain"
)

// StdoutSink writes each op as a JSON line to w, used in place of a store
// when no database is configured (an inspection/dry-run mode), generalized
// from the upstream reference's pages_to_stdout.
//
// Like store.Backfill, it sends on lastAt exactly once, the maximum
// createdAt written (the zero time if none), when it returns — after pages
// closes, or early on a write error — so the steady-state poller phase can
// always start without waiting on a write that may never happen.
func StdoutSink(w io.Writer, pages <-chan domain.ExportPage, lastAt chan<- time.Time) error {
	buf := bufio.NewWriter(w)

	var maxCreatedAt time.Time
	if lastAt != nil {
		defer func() { lastAt <- maxCreatedAt }()
	}

	for page := range pages {
		for _, op := range page.Ops {
			line, err := json.Marshal(op)
			if err != nil {
				return fmt.Errorf("encode op %s: %w", op.Key(), err)
			}
			if _, err := fmt.Fprintf(buf, "%s\n", line); err != nil {
				return fmt.Errorf("write op line: %w", err)
			}
			if op.CreatedAt.After(maxCreatedAt) {
				maxCreatedAt = op.CreatedAt
			}
		}
	}

	return buf.Flush()
}
