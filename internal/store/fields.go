package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
)

// CreateField inserts a new field definition. The magic-kind uniqueness
// invariant is checked inside the same transaction as the insert, so two
// concurrent creates of an asset-name field cannot both slip past a
// pre-check.
func (s *Store) CreateField(ctx context.Context, actor string, def schema.FieldDefinition) (schema.FieldDefinition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Deleted = false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if def.Kind == schema.KindAssetName {
			taken, err := magicKindTaken(ctx, tx, "")
			if err != nil {
				return err
			}
			if taken {
				return ErrMagicKindTaken
			}
		}
		raw, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("encode definition: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fields (id, definition, kind, persistent, deleted, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?)`,
			def.ID, string(raw), string(def.Kind), boolInt(def.Persistent),
			millis(now), millis(now)); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, auditWrite{
			Actor:   actor,
			Action:  "field.create",
			FieldID: def.ID,
			After:   def,
		})
	})
	if err != nil {
		return schema.FieldDefinition{}, err
	}
	return def, nil
}

// UpdateField rewrites a field definition. The persistent flag is one-way:
// once set it survives any update. Retyping into the magic kind re-checks
// uniqueness in the same transaction as the write.
func (s *Store) UpdateField(ctx context.Context, actor string, def schema.FieldDefinition) (schema.FieldDefinition, error) {
	var updated schema.FieldDefinition
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getFieldTx(ctx, tx, def.ID)
		if err != nil {
			return err
		}

		held, err := s.lockHeldByOther(ctx, tx, recordLockTarget(def.ID), actor)
		if err != nil {
			return err
		}
		if held {
			return ErrRecordLocked
		}

		if def.Kind == schema.KindAssetName && current.Kind != schema.KindAssetName {
			taken, err := magicKindTaken(ctx, tx, def.ID)
			if err != nil {
				return err
			}
			if taken {
				return ErrMagicKindTaken
			}
		}

		def.Persistent = def.Persistent || current.Persistent
		def.CreatedAt = current.CreatedAt
		def.UpdatedAt = s.now().UTC()
		def.Deleted = false

		raw, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("encode definition: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE fields SET definition = ?, kind = ?, persistent = ?, updated_at = ? WHERE id = ?`,
			string(raw), string(def.Kind), boolInt(def.Persistent), millis(def.UpdatedAt), def.ID); err != nil {
			return err
		}
		updated = def
		return s.appendAudit(ctx, tx, auditWrite{
			Actor:   actor,
			Action:  "field.update",
			FieldID: def.ID,
			Before:  current,
			After:   def,
		})
	})
	if err != nil {
		return schema.FieldDefinition{}, err
	}
	return updated, nil
}

// SoftDeleteField marks a definition deleted. Persistent fields refuse.
func (s *Store) SoftDeleteField(ctx context.Context, actor, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getFieldTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Persistent {
			return ErrFieldPersistent
		}
		held, err := s.lockHeldByOther(ctx, tx, recordLockTarget(id), actor)
		if err != nil {
			return err
		}
		if held {
			return ErrRecordLocked
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE fields SET deleted = 1, updated_at = ? WHERE id = ?`,
			millis(s.now()), id); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, auditWrite{
			Actor:   actor,
			Action:  "field.delete",
			FieldID: id,
			Before:  current,
		})
	})
}

// GetField returns a live field definition.
func (s *Store) GetField(ctx context.Context, id string) (schema.FieldDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT definition, persistent, deleted FROM fields WHERE id = ? AND deleted = 0`, id)
	return scanField(row)
}

// ListFields returns every live field definition.
func (s *Store) ListFields(ctx context.Context) ([]schema.FieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, persistent, deleted FROM fields WHERE deleted = 0 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []schema.FieldDefinition
	for rows.Next() {
		def, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func getFieldTx(ctx context.Context, tx *sql.Tx, id string) (schema.FieldDefinition, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT definition, persistent, deleted FROM fields WHERE id = ? AND deleted = 0`, id)
	return scanField(row)
}

func magicKindTaken(ctx context.Context, tx *sql.Tx, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields WHERE kind = ? AND deleted = 0 AND id != ?`,
		string(schema.KindAssetName), excludeID).Scan(&n)
	return n > 0, err
}

func scanField(row rowScanner) (schema.FieldDefinition, error) {
	var raw string
	var persistent, deleted int
	err := row.Scan(&raw, &persistent, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.FieldDefinition{}, ErrFieldNotFound
	}
	if err != nil {
		return schema.FieldDefinition{}, err
	}
	var def schema.FieldDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return schema.FieldDefinition{}, fmt.Errorf("decode field definition: %w", err)
	}
	// Columns are authoritative for the flags the store enforces.
	def.Persistent = persistent != 0
	def.Deleted = deleted != 0
	return def, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
