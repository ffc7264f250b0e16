// Package store holds the authoritative state of the inventory: assets,
// field definitions, the lock tables and the audit log. Every mutation runs
// as a single SQLite transaction, so two racing acquires can never both win
// and the server needs no in-process synchronization of its own.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAssetNotFound is returned when an asset is missing or soft-deleted.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrFieldNotFound is returned when a field definition is missing or soft-deleted.
	ErrFieldNotFound = errors.New("field not found")
	// ErrFieldPersistent is returned when deleting a field flagged persistent.
	ErrFieldPersistent = errors.New("field is persistent and cannot be deleted")
	// ErrMagicKindTaken is returned when a second live asset-name field would be created.
	ErrMagicKindTaken = errors.New("an asset-name field already exists")
	// ErrRecordLocked is returned when a schema write collides with another
	// session's record lock.
	ErrRecordLocked = errors.New("field definition is locked by another session")
	// ErrLockHeld is returned when a value write finds, inside its own
	// transaction, a live field lock owned by a different session.
	ErrLockHeld = errors.New("value is locked by another session")
)

// Lock denial reasons carried in LockResult. These are user-facing outcomes,
// not errors: a denied lock is a normal, recoverable state.
const (
	ReasonHeldByAnother = "held by another"
	ReasonNotFound      = "not found"
	ReasonNoLiveLock    = "no live lock"
)

// LockResult is the outcome of an acquire, renew or release call.
type LockResult struct {
	Granted   bool      `json:"granted"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// LockState is a cheap, non-transactional read of a lock, used to render UI
// affordances. It is advisory: only the transactional checks are authoritative.
type LockState struct {
	Locked    bool      `json:"locked"`
	Holder    string    `json:"holder,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// LockStore is the server-authoritative lock protocol. Field locks guard a
// single (asset, field) value; record locks guard a field definition itself.
// The SQLite Store implements it, as does RedisLockStore for deployments
// that want lock state off the primary database.
type LockStore interface {
	AcquireFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error)
	RenewFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error)
	ReleaseFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error)
	FieldLockState(ctx context.Context, assetID, fieldID string) (LockState, error)

	AcquireRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error)
	RenewRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error)
	ReleaseRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error)
	RecordLockState(ctx context.Context, fieldID string) (LockState, error)
}

// SubjectChecker answers whether a lock subject still exists and is live.
// Lock backends that do not share storage with the entities (Redis) need it
// to refuse locks on deleted subjects.
type SubjectChecker interface {
	AssetExists(ctx context.Context, id string) (bool, error)
	FieldExists(ctx context.Context, id string) (bool, error)
}

// AuditEntry is one immutable line of mutation history. Entries are only
// ever appended, never updated or deleted.
type AuditEntry struct {
	ID      int64     `json:"id"`
	Actor   string    `json:"actor"`
	At      time.Time `json:"at"`
	Action  string    `json:"action"`
	AssetID string    `json:"asset_id,omitempty"`
	FieldID string    `json:"field_id,omitempty"`
	Before  any       `json:"before,omitempty"`
	After   any       `json:"after,omitempty"`
}

// AssetRecord is one inventory entry. Metadata maps field definition IDs to
// values whose shape matches that field's kind. Assets are owned
// collectively; there is no per-asset owner.
type AssetRecord struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"deleted,omitempty"`
}
