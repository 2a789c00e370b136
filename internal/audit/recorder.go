// Package audit records and replays the append-only trail of ledger
// mutations.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"feeledger/internal/core"
	"feeledger/internal/storage"
)

// DefaultPageSize is the number of rows History fetches per query.
const DefaultPageSize = 100

// ErrMissingAfter is returned when a record has no post-state snapshot.
var ErrMissingAfter = errors.New("audit record requires an after snapshot")

// Event is one mutation to record.
type Event struct {
	Action      core.AuditAction
	EntityType  core.EntityType
	EntityID    string
	Before      any // optional
	After       any
	Description string
}

// Recorder appends audit records and reads them back.
type Recorder struct {
	store    *storage.Store
	pageSize int
}

func NewRecorder(store *storage.Store, pageSize int) *Recorder {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Recorder{store: store, pageSize: pageSize}
}

// Record appends ev within tx. It takes an open transaction so that the
// record commits or rolls back together with the mutation it describes.
func (r *Recorder) Record(ctx context.Context, tx *storage.Tx, ev Event) (core.AuditLog, error) {
	if ev.After == nil {
		return core.AuditLog{}, ErrMissingAfter
	}
	after, err := json.Marshal(ev.After)
	if err != nil {
		return core.AuditLog{}, fmt.Errorf("marshal after snapshot: %w", err)
	}
	var before json.RawMessage
	if ev.Before != nil {
		if before, err = json.Marshal(ev.Before); err != nil {
			return core.AuditLog{}, fmt.Errorf("marshal before snapshot: %w", err)
		}
	}
	rec, err := tx.InsertAudit(ctx, core.AuditLog{
		Action:      ev.Action,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		Before:      before,
		After:       after,
		Description: ev.Description,
	})
	if err != nil {
		return core.AuditLog{}, fmt.Errorf("record %s %s/%s: %w", ev.Action, ev.EntityType, ev.EntityID, err)
	}
	return rec, nil
}

// History yields matching records newest first. The sequence is finite and
// each range over it starts a fresh read from the newest record. Iteration
// stops after the first error, which is yielded with a zero record.
func (r *Recorder) History(ctx context.Context, f core.AuditFilter) iter.Seq2[core.AuditLog, error] {
	return func(yield func(core.AuditLog, error) bool) {
		var (
			cursor  int64
			yielded int
		)
		for {
			size := r.pageSize
			if f.Limit > 0 && f.Limit-yielded < size {
				size = f.Limit - yielded
			}
			if size <= 0 {
				return
			}

			var page []core.AuditLog
			err := r.store.View(ctx, func(q *storage.Tx) error {
				var err error
				page, err = q.AuditPage(ctx, f, cursor, size)
				return err
			})
			if err != nil {
				yield(core.AuditLog{}, fmt.Errorf("read audit history: %w", err))
				return
			}

			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				yielded++
				cursor = rec.ID
			}
			if len(page) < size {
				return
			}
		}
	}
}

// Collect drains a history sequence into a slice.
func Collect(seq iter.Seq2[core.AuditLog, error]) ([]core.AuditLog, error) {
	var out []core.AuditLog
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
