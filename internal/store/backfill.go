package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/metrics"
)

// operationsIndexes are the two named indexes dropped before the COPY and
// recreated with the exact same names afterward, matching the external
// schema's index names.
var operationsIndexes = []string{
	`CREATE INDEX "operations_createdAt_index" ON operations ("createdAt")`,
	`CREATE INDEX operations_did_createdat_idx ON operations (did, "createdAt")`,
}

// Backfill loads pages from the channel inside a single long-lived
// transaction, matching the spec's backfill-mode contract: disable
// synchronous_commit for the transaction, require the table to be empty
// (or clear it when reset is true), drop indexes, COPY, rebuild indexes and
// the dids table, then restore LOGGED status and commit.
//
// lastAt receives the maximum createdAt observed exactly once: as soon as
// the pages channel closes, before the indexes are rebuilt, or, if Backfill
// returns early on an error, from a deferred send of the maximum seen so
// far (the zero time if nothing was copied). This guarantees exactly one
// value is always delivered, so a single dedicated reader on the other end
// never blocks forever.
func (s *Store) Backfill(ctx context.Context, pages <-chan domain.ExportPage, reset bool, lastAt chan<- time.Time) error {
	start := time.Now()
	defer func() { metrics.BulkLoadDuration.Observe(time.Since(start).Seconds()) }()

	var maxCreatedAt time.Time
	var sentLastAt bool
	if lastAt != nil {
		defer func() {
			if !sentLastAt {
				lastAt <- maxCreatedAt
			}
		}()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin backfill transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL synchronous_commit = off"); err != nil {
		return fmt.Errorf("set synchronous_commit: %w", err)
	}

	var count int64
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM operations").Scan(&count); err != nil {
		return fmt.Errorf("check operations emptiness: %w", err)
	}
	if count > 0 {
		if !reset {
			return fmt.Errorf("refusing to backfill: operations already has %d rows (pass reset to override)", count)
		}
		log.Printf("[store] reset requested: clearing %d existing rows before backfill", count)
		if _, err := tx.Exec(ctx, "TRUNCATE operations, dids"); err != nil {
			return fmt.Errorf("truncate before reset backfill: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, "ALTER TABLE operations SET UNLOGGED"); err != nil {
		return fmt.Errorf("set operations unlogged: %w", err)
	}
	if _, err := tx.Exec(ctx, `DROP INDEX IF EXISTS "operations_createdAt_index"`); err != nil {
		return fmt.Errorf("drop createdAt index: %w", err)
	}
	if _, err := tx.Exec(ctx, "DROP INDEX IF EXISTS operations_did_createdat_idx"); err != nil {
		return fmt.Errorf("drop did/createdAt index: %w", err)
	}

	var inserted int64

	for page := range pages {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"operations"},
			[]string{"did", "operation", "cid", "nullified", "createdAt"},
			pgx.CopyFromSlice(len(page.Ops), func(i int) ([]any, error) {
				op := page.Ops[i]
				if op.CreatedAt.After(maxCreatedAt) {
					maxCreatedAt = op.CreatedAt
				}
				return []any{
					sanitizeForPG(op.DID),
					sanitizeJSONB(op.Operation),
					sanitizeForPG(op.CID),
					op.Nullified,
					op.CreatedAt,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy operations batch: %w", err)
		}
		inserted += n
		metrics.OpsIngested.WithLabelValues("backfill").Add(float64(n))
	}
	log.Printf("[store] backfill COPY complete: %d rows", inserted)

	if lastAt != nil {
		lastAt <- maxCreatedAt
		sentLastAt = true
	}

	for _, stmt := range operationsIndexes {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("recreate index: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `INSERT INTO dids (did) SELECT DISTINCT did FROM operations ON CONFLICT DO NOTHING`); err != nil {
		return fmt.Errorf("populate dids: %w", err)
	}

	if _, err := tx.Exec(ctx, "ALTER TABLE operations SET LOGGED"); err != nil {
		return fmt.Errorf("set operations logged: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit backfill transaction: %w", err)
	}
	return nil
}
