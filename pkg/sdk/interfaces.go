package sdk

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
)

var (
	// ErrUnauthorized is returned when the bearer token is missing or unknown.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when the asset or field does not exist or is deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a lock held by someone else, or a
	// conflicting field definition, blocks the operation.
	ErrConflict = errors.New("conflict")
)

// ValidationError carries the server's per-field rejection messages.
type ValidationError struct {
	Messages map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 1 {
		for id, msg := range e.Messages {
			return fmt.Sprintf("validation failed: %s: %s", id, msg)
		}
	}
	ids := make([]string, 0, len(e.Messages))
	for id := range e.Messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("validation failed for %d fields: %v", len(e.Messages), ids)
}

// LockResult is the server's answer to a lock verb.
type LockResult struct {
	Granted   bool      `json:"granted"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// LockState describes who, if anyone, holds a lock right now.
type LockState struct {
	Locked    bool      `json:"locked"`
	Holder    string    `json:"holder,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Asset is one inventory record with its metadata values keyed by field ID.
type Asset struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AuditEntry is one line of the server's change history.
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

// --- Functional interfaces ---

// FieldAdmin manages field definitions.
type FieldAdmin interface {
	ListFields() ([]schema.FieldDefinition, error)
	GetField(id string) (schema.FieldDefinition, error)
	CreateField(def schema.FieldDefinition) (schema.FieldDefinition, error)
	UpdateField(def schema.FieldDefinition) (schema.FieldDefinition, error)
	DeleteField(id string) error
}

// AssetEditor reads and writes inventory records.
type AssetEditor interface {
	ListAssets() ([]Asset, error)
	GetAsset(id string) (Asset, error)
	CreateAsset(metadata map[string]any) (Asset, error)
	DeleteAsset(id string) error
	UpdateAssetField(assetID, fieldID string, value any) ([]string, error)
}

// LockClient speaks the lock verbs for both lock flavors.
type LockClient interface {
	AcquireFieldLock(assetID, fieldID string) (LockResult, error)
	RenewFieldLock(assetID, fieldID string) (LockResult, error)
	ReleaseFieldLock(assetID, fieldID string) (LockResult, error)
	FieldLockState(assetID, fieldID string) (LockState, error)
	AssetLockStates(assetID string) (map[string]LockState, error)

	AcquireRecordLock(fieldID string) (LockResult, error)
	RenewRecordLock(fieldID string) (LockResult, error)
	ReleaseRecordLock(fieldID string) (LockResult, error)
	RecordLockState(fieldID string) (LockState, error)
}

// Validator checks values against the server's field definitions.
type Validator interface {
	Validate(metadata map[string]any) (map[string]string, error)
}

// Auditor reads the change history.
type Auditor interface {
	Audit(assetID string, limit int) ([]AuditEntry, error)
}

// --- Composite interface ---

// AssetGrid is the full client surface.
type AssetGrid interface {
	FieldAdmin
	AssetEditor
	LockClient
	Validator
	Auditor
}
