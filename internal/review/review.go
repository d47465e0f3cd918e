// Package review implements the operator-facing split/merge/dismiss
// mutations over canonical events. Every operation runs inside a single
// storage.Tx and never re-runs scoring or clustering.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage"
	"github.com/regioevents/dedupe/internal/synth"
)

var ErrInvalidArgument = fmt.Errorf("review: %w", storage.ErrInvalidArg)

// Split detaches sourceID from canonicalID. If targetCanonicalID is
// non-nil, the source is linked there instead (skipped if already linked);
// otherwise a new singleton canonical is created for it.
func Split(ctx context.Context, store storage.Store, canonicalID, sourceID string, targetCanonicalID *string, operator string, now time.Time) error {
	return store.WithTx(ctx, func(tx storage.Tx) error {
		linked, err := tx.HasSourceLink(ctx, canonicalID, sourceID)
		if err != nil {
			return err
		}
		if !linked {
			return fmt.Errorf("%w: link %s/%s", storage.ErrNotFound, canonicalID, sourceID)
		}
		if err := tx.DeleteCanonicalEventSource(ctx, canonicalID, sourceID); err != nil {
			return err
		}

		remainingCount, err := tx.CountSourcesForCanonical(ctx, canonicalID)
		if err != nil {
			return err
		}
		if remainingCount == 0 {
			if err := tx.DeleteCanonicalEvent(ctx, canonicalID); err != nil {
				return err
			}
		} else {
			if err := resynthesize(ctx, tx, canonicalID, now, true); err != nil {
				return err
			}
		}

		target := ""
		if targetCanonicalID != nil && *targetCanonicalID != "" {
			target = *targetCanonicalID
			alreadyLinked, err := tx.HasSourceLink(ctx, target, sourceID)
			if err != nil {
				return err
			}
			if !alreadyLinked {
				if err := tx.InsertCanonicalEventSource(ctx, target, sourceID); err != nil {
					return err
				}
			}
			if err := resynthesize(ctx, tx, target, now, true); err != nil {
				return err
			}
		} else {
			newID, err := tx.NewCanonicalID(ctx)
			if err != nil {
				return err
			}
			if err := tx.InsertCanonicalEventSource(ctx, newID, sourceID); err != nil {
				return err
			}
			records, err := tx.RecordsForCanonical(ctx, newID)
			if err != nil {
				return err
			}
			ev, err := synth.Synthesize(records)
			if err != nil {
				return err
			}
			ev.ID = newID
			ev.CreatedAt = now
			ev.UpdatedAt = now
			if err := tx.PutCanonicalEvent(ctx, ev); err != nil {
				return err
			}
			target = newID
		}

		return tx.AppendAudit(ctx, model.AuditRecord{
			Action:      model.AuditSplit,
			CanonicalID: canonicalID,
			SourceID:    sourceID,
			Operator:    operator,
			Details: map[string]any{
				"target":                 target,
				"remaining_source_count": remainingCount,
			},
			CreatedAt: now,
		})
	})
}

// Merge reassigns every source link from sourceCanonicalID onto
// targetCanonicalID (skipping a source the target already has), deletes the
// source canonical, and re-synthesizes the target from the union.
func Merge(ctx context.Context, store storage.Store, sourceCanonicalID, targetCanonicalID, operator string, now time.Time) error {
	if sourceCanonicalID == "" || targetCanonicalID == "" || sourceCanonicalID == targetCanonicalID {
		return fmt.Errorf("%w: merge requires distinct non-empty canonical ids", ErrInvalidArgument)
	}

	return store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetCanonicalEvent(ctx, sourceCanonicalID); err != nil {
			return err
		}
		if _, err := tx.GetCanonicalEvent(ctx, targetCanonicalID); err != nil {
			return err
		}

		sourceRecords, err := tx.RecordsForCanonical(ctx, sourceCanonicalID)
		if err != nil {
			return err
		}
		for _, r := range sourceRecords {
			alreadyLinked, err := tx.HasSourceLink(ctx, targetCanonicalID, r.ID)
			if err != nil {
				return err
			}
			if alreadyLinked {
				if err := tx.DeleteCanonicalEventSource(ctx, sourceCanonicalID, r.ID); err != nil {
					return err
				}
				continue
			}
			if err := tx.DeleteCanonicalEventSource(ctx, sourceCanonicalID, r.ID); err != nil {
				return err
			}
			if err := tx.InsertCanonicalEventSource(ctx, targetCanonicalID, r.ID); err != nil {
				return err
			}
		}

		if err := tx.DeleteCanonicalEvent(ctx, sourceCanonicalID); err != nil {
			return err
		}

		newSourceCount, err := tx.CountSourcesForCanonical(ctx, targetCanonicalID)
		if err != nil {
			return err
		}
		if err := resynthesize(ctx, tx, targetCanonicalID, now, true); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, model.AuditRecord{
			Action:      model.AuditMerge,
			CanonicalID: targetCanonicalID,
			Operator:    operator,
			Details: map[string]any{
				"deleted_id":       sourceCanonicalID,
				"new_source_count": newSourceCount,
			},
			CreatedAt: now,
		})
	})
}

// Dismiss clears needs_review on a canonical; if match_confidence is below
// 0.8 it is bumped to 1.0 so the canonical leaves the low-confidence queue.
// The original value is stashed in the audit row's details.
func Dismiss(ctx context.Context, store storage.Store, canonicalID string, reason *string, operator string, now time.Time) error {
	return store.WithTx(ctx, func(tx storage.Tx) error {
		ev, err := tx.GetCanonicalEvent(ctx, canonicalID)
		if err != nil {
			return err
		}

		details := map[string]any{
			"previous_needs_review": ev.NeedsReview,
		}
		if reason != nil {
			details["reason"] = *reason
		}
		if ev.MatchConfidence != nil {
			details["previous_match_confidence"] = *ev.MatchConfidence
		}

		ev.NeedsReview = false
		if ev.MatchConfidence == nil || *ev.MatchConfidence < 0.8 {
			full := 1.0
			ev.MatchConfidence = &full
		}
		ev.UpdatedAt = now

		if err := tx.PutCanonicalEvent(ctx, ev); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, model.AuditRecord{
			Action:      model.AuditReviewDismiss,
			CanonicalID: canonicalID,
			Operator:    operator,
			Details:     details,
			CreatedAt:   now,
		})
	})
}

// resynthesize re-synthesizes canonicalID from its currently linked records
// via Enrichment's downgrade-prevention rule and, when clearReview is true,
// explicitly clears needs_review (the operator has just reviewed it).
func resynthesize(ctx context.Context, tx storage.Tx, canonicalID string, now time.Time, clearReview bool) error {
	existing, err := tx.GetCanonicalEvent(ctx, canonicalID)
	if err != nil {
		return err
	}
	records, err := tx.RecordsForCanonical(ctx, canonicalID)
	if err != nil {
		return err
	}
	updated, err := synth.Enrich(existing, records, false, false)
	if err != nil {
		return err
	}
	if clearReview {
		updated.NeedsReview = false
	}
	updated.UpdatedAt = now
	return tx.PutCanonicalEvent(ctx, updated)
}
