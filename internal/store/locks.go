package store

import (
	"context"
	"database/sql"
	"errors"
)

// lockTarget abstracts over the two lock tables so acquire/renew/release are
// written once. Field locks key on (asset_id, field_id), record locks on
// field_id alone.
type lockTarget struct {
	selectQ string
	upsertQ string
	renewQ  string
	deleteQ string
	keys    []any
}

func fieldLockTarget(assetID, fieldID string) lockTarget {
	return lockTarget{
		selectQ: `SELECT holder_id, expires_at FROM field_locks WHERE asset_id = ? AND field_id = ?`,
		upsertQ: `INSERT INTO field_locks (asset_id, field_id, holder_id, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(asset_id, field_id) DO UPDATE SET holder_id = excluded.holder_id, expires_at = excluded.expires_at`,
		renewQ:  `UPDATE field_locks SET expires_at = ? WHERE asset_id = ? AND field_id = ?`,
		deleteQ: `DELETE FROM field_locks WHERE asset_id = ? AND field_id = ?`,
		keys:    []any{assetID, fieldID},
	}
}

func recordLockTarget(fieldID string) lockTarget {
	return lockTarget{
		selectQ: `SELECT holder_id, expires_at FROM record_locks WHERE field_id = ?`,
		upsertQ: `INSERT INTO record_locks (field_id, holder_id, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(field_id) DO UPDATE SET holder_id = excluded.holder_id, expires_at = excluded.expires_at`,
		renewQ:  `UPDATE record_locks SET expires_at = ? WHERE field_id = ?`,
		deleteQ: `DELETE FROM record_locks WHERE field_id = ?`,
		keys:    []any{fieldID},
	}
}

func assetLive(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE id = ? AND deleted = 0`, id).Scan(&n)
	return n > 0, err
}

func fieldLive(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields WHERE id = ? AND deleted = 0`, id).Scan(&n)
	return n > 0, err
}

// lockHeldByOther reports whether a live lock owned by someone other than
// holderID exists, read inside the caller's transaction. Writes call it so
// the ownership check and the commit are a single serializable unit; a lock
// granted between a caller's advisory pre-check and its write cannot be
// overwritten.
func (s *Store) lockHeldByOther(ctx context.Context, tx *sql.Tx, t lockTarget, holderID string) (bool, error) {
	var holder string
	var expires int64
	err := tx.QueryRowContext(ctx, t.selectQ, t.keys...).Scan(&holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expires > millis(s.now()) && holder != holderID, nil
}

// AcquireFieldLock grants the (asset, field) lock iff no live lock exists or
// the caller already holds it. The whole check-and-set is one transaction.
func (s *Store) AcquireFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error) {
	return s.acquire(ctx, fieldLockTarget(assetID, fieldID), holderID, func(tx *sql.Tx) (bool, error) {
		if ok, err := assetLive(ctx, tx, assetID); err != nil || !ok {
			return false, err
		}
		return fieldLive(ctx, tx, fieldID)
	})
}

// AcquireRecordLock grants the whole-definition lock on a field schema.
func (s *Store) AcquireRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error) {
	return s.acquire(ctx, recordLockTarget(fieldID), holderID, func(tx *sql.Tx) (bool, error) {
		return fieldLive(ctx, tx, fieldID)
	})
}

func (s *Store) acquire(ctx context.Context, t lockTarget, holderID string, subjectLive func(*sql.Tx) (bool, error)) (LockResult, error) {
	var res LockResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		live, err := subjectLive(tx)
		if err != nil {
			return err
		}
		if !live {
			res = LockResult{Reason: ReasonNotFound}
			return nil
		}

		now := s.now()
		var holder string
		var expires int64
		err = tx.QueryRowContext(ctx, t.selectQ, t.keys...).Scan(&holder, &expires)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil && expires > millis(now) && holder != holderID {
			res = LockResult{Reason: ReasonHeldByAnother}
			return nil
		}

		// Free, expired, or an idempotent re-acquire by the holder.
		until := now.Add(s.lease)
		args := append(append([]any{}, t.keys...), holderID, millis(until))
		if _, err := tx.ExecContext(ctx, t.upsertQ, args...); err != nil {
			return err
		}
		res = LockResult{Granted: true, ExpiresAt: until.UTC()}
		return nil
	})
	return res, err
}

// RenewFieldLock pushes the lease forward. It succeeds only while a live
// lock is held by the caller; every other state is a distinct denial.
func (s *Store) RenewFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error) {
	return s.renew(ctx, fieldLockTarget(assetID, fieldID), holderID, func(tx *sql.Tx) (bool, error) {
		if ok, err := assetLive(ctx, tx, assetID); err != nil || !ok {
			return false, err
		}
		return fieldLive(ctx, tx, fieldID)
	})
}

// RenewRecordLock is the record-lock flavor of RenewFieldLock.
func (s *Store) RenewRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error) {
	return s.renew(ctx, recordLockTarget(fieldID), holderID, func(tx *sql.Tx) (bool, error) {
		return fieldLive(ctx, tx, fieldID)
	})
}

func (s *Store) renew(ctx context.Context, t lockTarget, holderID string, subjectLive func(*sql.Tx) (bool, error)) (LockResult, error) {
	var res LockResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		live, err := subjectLive(tx)
		if err != nil {
			return err
		}
		if !live {
			res = LockResult{Reason: ReasonNotFound}
			return nil
		}

		now := s.now()
		var holder string
		var expires int64
		err = tx.QueryRowContext(ctx, t.selectQ, t.keys...).Scan(&holder, &expires)
		if errors.Is(err, sql.ErrNoRows) {
			res = LockResult{Reason: ReasonNoLiveLock}
			return nil
		}
		if err != nil {
			return err
		}
		if expires <= millis(now) {
			res = LockResult{Reason: ReasonNoLiveLock}
			return nil
		}
		if holder != holderID {
			res = LockResult{Reason: ReasonHeldByAnother}
			return nil
		}

		until := now.Add(s.lease)
		args := append([]any{millis(until)}, t.keys...)
		if _, err := tx.ExecContext(ctx, t.renewQ, args...); err != nil {
			return err
		}
		res = LockResult{Granted: true, ExpiresAt: until.UTC()}
		return nil
	})
	return res, err
}

// ReleaseFieldLock drops the caller's lock. Releasing when no lock exists is
// an idempotent success: "no lock" and "my lock released" are the same end
// state. Only a live lock held by someone else is a denial. The same policy
// applies to both lock flavors.
func (s *Store) ReleaseFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error) {
	return s.release(ctx, fieldLockTarget(assetID, fieldID), holderID)
}

// ReleaseRecordLock is the record-lock flavor of ReleaseFieldLock.
func (s *Store) ReleaseRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error) {
	return s.release(ctx, recordLockTarget(fieldID), holderID)
}

func (s *Store) release(ctx context.Context, t lockTarget, holderID string) (LockResult, error) {
	var res LockResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		var holder string
		var expires int64
		err := tx.QueryRowContext(ctx, t.selectQ, t.keys...).Scan(&holder, &expires)
		if errors.Is(err, sql.ErrNoRows) {
			res = LockResult{Granted: true}
			return nil
		}
		if err != nil {
			return err
		}
		if holder != holderID {
			if expires > millis(now) {
				res = LockResult{Reason: ReasonHeldByAnother}
				return nil
			}
			// Someone else's expired lock is as good as no lock. The reaper
			// will collect the row.
			res = LockResult{Granted: true}
			return nil
		}
		if _, err := tx.ExecContext(ctx, t.deleteQ, t.keys...); err != nil {
			return err
		}
		res = LockResult{Granted: true}
		return nil
	})
	return res, err
}

// FieldLockState reports who holds the (asset, field) lock, if anyone.
// It is a plain read outside any transaction.
func (s *Store) FieldLockState(ctx context.Context, assetID, fieldID string) (LockState, error) {
	t := fieldLockTarget(assetID, fieldID)
	return s.lockState(ctx, t)
}

// RecordLockState reports who holds a field definition's record lock.
func (s *Store) RecordLockState(ctx context.Context, fieldID string) (LockState, error) {
	return s.lockState(ctx, recordLockTarget(fieldID))
}

func (s *Store) lockState(ctx context.Context, t lockTarget) (LockState, error) {
	var holder string
	var expires int64
	err := s.db.QueryRowContext(ctx, t.selectQ, t.keys...).Scan(&holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return LockState{}, nil
	}
	if err != nil {
		return LockState{}, err
	}
	if expires <= millis(s.now()) {
		return LockState{}, nil
	}
	return LockState{Locked: true, Holder: holder, ExpiresAt: fromMillis(expires)}, nil
}

// AssetLockStates lists every live field lock on one asset, for the UI's
// "who is editing what" badges.
func (s *Store) AssetLockStates(ctx context.Context, assetID string) (map[string]LockState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_id, holder_id, expires_at FROM field_locks WHERE asset_id = ?`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nowMs := millis(s.now())
	states := make(map[string]LockState)
	for rows.Next() {
		var fieldID, holder string
		var expires int64
		if err := rows.Scan(&fieldID, &holder, &expires); err != nil {
			return nil, err
		}
		if expires > nowMs {
			states[fieldID] = LockState{Locked: true, Holder: holder, ExpiresAt: fromMillis(expires)}
		}
	}
	return states, rows.Err()
}

// ReapExpiredLocks force-clears every expired lock row. Expired locks are
// already treated as free by acquire and renew; this keeps stale "locked by"
// indicators from lingering after a holder vanishes.
func (s *Store) ReapExpiredLocks(ctx context.Context) (int64, error) {
	nowMs := millis(s.now())
	var reaped int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM field_locks WHERE expires_at <= ?`,
			`DELETE FROM record_locks WHERE expires_at <= ?`,
		} {
			r, err := tx.ExecContext(ctx, q, nowMs)
			if err != nil {
				return err
			}
			n, err := r.RowsAffected()
			if err != nil {
				return err
			}
			reaped += n
		}
		return nil
	})
	return reaped, err
}
