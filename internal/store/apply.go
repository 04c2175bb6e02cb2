package store

import (
	"context"
	"fmt"
	"log"

	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/metrics"
)

// upsertOp is the steady-state per-op upsert. It only overwrites nullified
// and createdAt on conflict, and only when one of those actually changed —
// mirroring the upstream reference's change-detection WHERE clause so a
// no-op re-delivery doesn't appear as a row change.
const upsertOp = `
	INSERT INTO operations (did, operation, cid, nullified, "createdAt")
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (did, cid) DO UPDATE
	   SET nullified = excluded.nullified,
	       "createdAt" = excluded."createdAt"
	 WHERE operations.nullified != excluded.nullified
	    OR operations."createdAt" != excluded."createdAt"`

const upsertDID = `INSERT INTO dids (did) VALUES ($1) ON CONFLICT DO NOTHING`

// ApplyPage writes one page transactionally, upserting each op and
// discovering any new dids. inserted counts ops whose row was actually
// created or changed; dids counts newly seen DIDs.
func (s *Store) ApplyPage(ctx context.Context, page domain.ExportPage) (inserted, dids int, err error) {
	if len(page.Ops) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin apply transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	seenDID := make(map[string]struct{}, len(page.Ops))
	for _, op := range page.Ops {
		tag, err := tx.Exec(ctx, upsertOp,
			sanitizeForPG(op.DID),
			sanitizeJSONB(op.Operation),
			sanitizeForPG(op.CID),
			op.Nullified,
			op.CreatedAt,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert op %s: %w", op.Key(), err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}

		if _, ok := seenDID[op.DID]; !ok {
			seenDID[op.DID] = struct{}{}
			didTag, err := tx.Exec(ctx, upsertDID, sanitizeForPG(op.DID))
			if err != nil {
				return 0, 0, fmt.Errorf("upsert did %s: %w", op.DID, err)
			}
			if didTag.RowsAffected() > 0 {
				dids++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit apply transaction: %w", err)
	}

	metrics.OpsIngested.WithLabelValues("steady-state").Add(float64(inserted))
	log.Printf("[store] applied page: %d ops, %d changed, %d new dids", len(page.Ops), inserted, dids)
	return inserted, dids, nil
}
