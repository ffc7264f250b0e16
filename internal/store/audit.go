package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// auditWrite is the payload for one appended history line.
type auditWrite struct {
	Actor   string
	Action  string
	AssetID string
	FieldID string
	Before  any
	After   any
}

// appendAudit adds one immutable entry inside the caller's transaction, so a
// mutation and its history line commit or roll back together.
func (s *Store) appendAudit(ctx context.Context, tx *sql.Tx, w auditWrite) error {
	before, err := encodeAuditValue(w.Before)
	if err != nil {
		return err
	}
	after, err := encodeAuditValue(w.After)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (actor, at, action, asset_id, field_id, before_value, after_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.Actor, millis(s.now()), w.Action, w.AssetID, w.FieldID, before, after)
	return err
}

func encodeAuditValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode audit value: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// ListAudit returns history, newest first. An empty assetID means all
// entries; limit <= 0 means a sane default page.
func (s *Store) ListAudit(ctx context.Context, assetID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, actor, at, action, asset_id, field_id, before_value, after_value
		FROM audit_log`
	args := []any{}
	if assetID != "" {
		query += ` WHERE asset_id = ?`
		args = append(args, assetID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at int64
		var assetID, fieldID, before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &at, &e.Action, &assetID, &fieldID, &before, &after); err != nil {
			return nil, err
		}
		e.At = fromMillis(at)
		e.AssetID = assetID.String
		e.FieldID = fieldID.String
		e.Before = decodeAuditValue(before)
		e.After = decodeAuditValue(after)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func decodeAuditValue(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		// Old rows are history; surface what is there rather than fail.
		return v.String
	}
	return out
}
