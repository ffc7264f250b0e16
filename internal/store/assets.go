package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateAsset inserts a new asset with the given initial metadata and writes
// the creation to the audit log in the same transaction.
func (s *Store) CreateAsset(ctx context.Context, actor string, metadata map[string]any) (AssetRecord, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return AssetRecord{}, fmt.Errorf("encode metadata: %w", err)
	}

	now := s.now().UTC()
	rec := AssetRecord{
		ID:        uuid.NewString(),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assets (id, metadata, created_at, updated_at, deleted) VALUES (?, ?, ?, ?, 0)`,
			rec.ID, string(raw), millis(now), millis(now)); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, auditWrite{
			Actor:   actor,
			Action:  "asset.create",
			AssetID: rec.ID,
			After:   metadata,
		})
	})
	if err != nil {
		return AssetRecord{}, err
	}
	return rec, nil
}

// GetAsset returns a live asset. Missing and soft-deleted assets are both
// ErrAssetNotFound; history stays reachable through the audit log.
func (s *Store) GetAsset(ctx context.Context, id string) (AssetRecord, error) {
	return scanAsset(s.db.QueryRowContext(ctx,
		`SELECT id, metadata, created_at, updated_at FROM assets WHERE id = ? AND deleted = 0`, id))
}

// ListAssets returns every live asset.
func (s *Store) ListAssets(ctx context.Context) ([]AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata, created_at, updated_at FROM assets WHERE deleted = 0 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []AssetRecord
	for rows.Next() {
		rec, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// SoftDeleteAsset flips the deleted flag. The row and its audit history are
// never removed.
func (s *Store) SoftDeleteAsset(ctx context.Context, actor, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE assets SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`,
			millis(s.now()), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAssetNotFound
		}
		return s.appendAudit(ctx, tx, auditWrite{
			Actor:   actor,
			Action:  "asset.delete",
			AssetID: id,
		})
	})
}

// UpdateAssetField writes one field value and the matching audit entry in a
// single transaction, returning the previous value. Validation belongs to
// the gateway, but lock ownership is re-checked here, inside the same
// transaction as the commit, so a lock acquired after the gateway's
// advisory check still blocks the write (ErrLockHeld).
func (s *Store) UpdateAssetField(ctx context.Context, actor, assetID, fieldID string, value any) (before any, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM assets WHERE id = ? AND deleted = 0`, assetID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAssetNotFound
		}
		if err != nil {
			return err
		}

		held, err := s.lockHeldByOther(ctx, tx, fieldLockTarget(assetID, fieldID), actor)
		if err != nil {
			return err
		}
		if held {
			return ErrLockHeld
		}

		var metadata map[string]any
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return fmt.Errorf("decode metadata for asset %s: %w", assetID, err)
		}
		before = metadata[fieldID]
		metadata[fieldID] = value

		updated, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET metadata = ?, updated_at = ? WHERE id = ?`,
			string(updated), millis(s.now()), assetID); err != nil {
			return err
		}

		return s.appendAudit(ctx, tx, auditWrite{
			Actor:   actor,
			Action:  "asset.field.update",
			AssetID: assetID,
			FieldID: fieldID,
			Before:  before,
			After:   value,
		})
	})
	return before, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (AssetRecord, error) {
	var rec AssetRecord
	var raw string
	var created, updated int64
	err := row.Scan(&rec.ID, &raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return AssetRecord{}, ErrAssetNotFound
	}
	if err != nil {
		return AssetRecord{}, err
	}
	if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
		return AssetRecord{}, fmt.Errorf("decode metadata for asset %s: %w", rec.ID, err)
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}
