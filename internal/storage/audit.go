package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"feeledger/internal/core"
)

// InsertAudit appends one audit record. There is no update or delete
// counterpart; the schema rejects both.
func (t *Tx) InsertAudit(ctx context.Context, a core.AuditLog) (core.AuditLog, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = t.Now()
	}
	var before sql.NullString
	if len(a.Before) > 0 {
		before = sql.NullString{String: string(a.Before), Valid: true}
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO audit_log (ts, action, entity_type, entity_id, before_json, after_json, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nanos(a.Timestamp), string(a.Action), string(a.EntityType), a.EntityID, before, string(a.After), a.Description)
	if err != nil {
		return core.AuditLog{}, fmt.Errorf("insert audit record: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return core.AuditLog{}, err
	}
	a.Timestamp = fromNanos(nanos(a.Timestamp))
	return a, nil
}

// AuditPage returns up to limit records matching f with id below beforeID,
// newest first. A beforeID of 0 starts from the newest record.
func (t *Tx) AuditPage(ctx context.Context, f core.AuditFilter, beforeID int64, limit int) ([]core.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	if beforeID > 0 {
		where = append(where, "id < ?")
		args = append(args, beforeID)
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, nanos(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, nanos(f.Until))
	}

	query := `SELECT id, ts, action, entity_type, entity_id, before_json, after_json, description FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT " + strconv.Itoa(limit)

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []core.AuditLog
	for rows.Next() {
		var (
			a              core.AuditLog
			ts             int64
			action, entity string
			before         sql.NullString
			after          string
		)
		if err := rows.Scan(&a.ID, &ts, &action, &entity, &a.EntityID, &before, &after, &a.Description); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		a.Timestamp = fromNanos(ts)
		a.Action = core.AuditAction(action)
		a.EntityType = core.EntityType(entity)
		if before.Valid {
			a.Before = []byte(before.String)
		}
		a.After = []byte(after)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAudit counts the records for one entity.
func (t *Tx) CountAudit(ctx context.Context, entityType core.EntityType, entityID string) (int, error) {
	var n int
	if err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE entity_type = ? AND entity_id = ?`,
		string(entityType), entityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}
