// Package gateway is the authoritative write path for asset and field
// mutations. Every write re-validates its input through the shared schema
// package and re-checks lock ownership against the server-side lock store;
// nothing else in the process may mutate inventory state directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/assetgrid-dev/assetgrid-core/internal/store"
	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
)

// ErrLockConflict is returned when a write collides with a live lock held by
// a different session. It is recoverable: retry after the holder releases.
var ErrLockConflict = errors.New("locked by another holder")

// WarnLockMissing is appended to a write's log trail when the write went
// through without any live lock. Such writes are permitted but anomalous;
// the sentinel lets an external collector spot UI paths that bypass locking.
const WarnLockMissing = "Warning: lock missing"

// Inventory is the slice of the store the gateway mutates.
type Inventory interface {
	AssetExists(ctx context.Context, id string) (bool, error)
	GetField(ctx context.Context, id string) (schema.FieldDefinition, error)
	CreateField(ctx context.Context, actor string, def schema.FieldDefinition) (schema.FieldDefinition, error)
	UpdateField(ctx context.Context, actor string, def schema.FieldDefinition) (schema.FieldDefinition, error)
	SoftDeleteField(ctx context.Context, actor, id string) error
	ListFields(ctx context.Context) ([]schema.FieldDefinition, error)

	CreateAsset(ctx context.Context, actor string, metadata map[string]any) (store.AssetRecord, error)
	SoftDeleteAsset(ctx context.Context, actor, id string) error
	UpdateAssetField(ctx context.Context, actor, assetID, fieldID string, value any) (any, error)
}

// Gateway ties validation, lock checks and transactional writes together.
type Gateway struct {
	inv    Inventory
	locks  store.LockStore
	logger *log.Logger
}

// New creates a gateway over the given inventory and lock store.
func New(inv Inventory, locks store.LockStore, logger *log.Logger) *Gateway {
	return &Gateway{inv: inv, locks: locks, logger: logger}
}

// UpdateOutcome reports a field-value write. A non-empty ValidationMessage
// means the value was rejected and nothing was committed.
type UpdateOutcome struct {
	ValidationMessage string
	Before            any
	LogMessages       []string
}

// UpdateAssetField validates and commits one field value on behalf of actor.
// The write is allowed when the actor holds the live field lock, or when no
// live lock exists at all. The latter succeeds but is flagged in the log
// trail so bypassed lock flows stay visible.
func (g *Gateway) UpdateAssetField(ctx context.Context, actor, assetID, fieldID string, value any) (*UpdateOutcome, error) {
	live, err := g.inv.AssetExists(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, store.ErrAssetNotFound
	}
	def, err := g.inv.GetField(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	// Holder check comes before validation: a caller colliding with another
	// session's lock gets the conflict, not a message about their input.
	// This read is advisory; the store repeats it inside the write
	// transaction, which is the check that counts.
	state, err := g.locks.FieldLockState(ctx, assetID, fieldID)
	if err != nil {
		return nil, err
	}
	if state.Locked && state.Holder != actor {
		return nil, fmt.Errorf("%w: %s", ErrLockConflict, state.Holder)
	}

	// Authoritative re-validation; the client ran the same code, but only
	// this check counts. A compile failure here is a broken schema, not bad
	// input, and propagates as a hard error.
	msg, err := schema.ValidateOne(def, value)
	if err != nil {
		return nil, err
	}
	if msg != "" {
		return &UpdateOutcome{ValidationMessage: msg}, nil
	}

	outcome := &UpdateOutcome{}
	if !state.Locked {
		outcome.LogMessages = append(outcome.LogMessages, WarnLockMissing)
		g.logger.Printf("unlocked write: actor=%s asset=%s field=%s", actor, assetID, fieldID)
	}

	before, err := g.inv.UpdateAssetField(ctx, actor, assetID, fieldID, value)
	if errors.Is(err, store.ErrLockHeld) {
		// The lock moved between the advisory read and the commit.
		return nil, fmt.Errorf("%w: %v", ErrLockConflict, err)
	}
	if err != nil {
		return nil, err
	}
	outcome.Before = before
	outcome.LogMessages = append(outcome.LogMessages,
		fmt.Sprintf("updated field %s on asset %s", fieldID, assetID))
	return outcome, nil
}

// ValidateMetadata checks a whole metadata mapping against every live
// definition, collecting all failures.
func (g *Gateway) ValidateMetadata(ctx context.Context, metadata map[string]any) (map[string]string, error) {
	defs, err := g.inv.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	return schema.ValidateAll(defs, metadata)
}

// CreateAsset validates the initial metadata and creates the asset.
func (g *Gateway) CreateAsset(ctx context.Context, actor string, metadata map[string]any) (store.AssetRecord, map[string]string, error) {
	failures, err := g.ValidateMetadata(ctx, metadata)
	if err != nil {
		return store.AssetRecord{}, nil, err
	}
	if len(failures) > 0 {
		return store.AssetRecord{}, failures, nil
	}
	rec, err := g.inv.CreateAsset(ctx, actor, metadata)
	return rec, nil, err
}

// DeleteAsset soft-deletes an asset.
func (g *Gateway) DeleteAsset(ctx context.Context, actor, assetID string) error {
	return g.inv.SoftDeleteAsset(ctx, actor, assetID)
}

// CreateField compiles the definition as an authoring check and persists it.
// A definition that does not compile never reaches the store.
func (g *Gateway) CreateField(ctx context.Context, actor string, def schema.FieldDefinition) (schema.FieldDefinition, error) {
	probe := def
	probe.ID = "new"
	if _, err := schema.Compile(probe); err != nil {
		return schema.FieldDefinition{}, err
	}
	return g.inv.CreateField(ctx, actor, def)
}

// UpdateField rewrites a field definition. The actor must hold the record
// lock if any other session does; like value writes, an unlocked schema edit
// is allowed but flagged.
func (g *Gateway) UpdateField(ctx context.Context, actor string, def schema.FieldDefinition) (schema.FieldDefinition, []string, error) {
	if _, err := schema.Compile(def); err != nil {
		return schema.FieldDefinition{}, nil, err
	}

	var logs []string
	state, err := g.locks.RecordLockState(ctx, def.ID)
	if err != nil {
		return schema.FieldDefinition{}, nil, err
	}
	switch {
	case state.Locked && state.Holder != actor:
		return schema.FieldDefinition{}, nil, fmt.Errorf("%w: %s", ErrLockConflict, state.Holder)
	case !state.Locked:
		logs = append(logs, WarnLockMissing)
		g.logger.Printf("unlocked schema edit: actor=%s field=%s", actor, def.ID)
	}

	updated, err := g.inv.UpdateField(ctx, actor, def)
	if errors.Is(err, store.ErrRecordLocked) {
		// The record lock moved between the advisory read and the commit.
		return schema.FieldDefinition{}, nil, fmt.Errorf("%w: %v", ErrLockConflict, err)
	}
	if err != nil {
		return schema.FieldDefinition{}, nil, err
	}
	logs = append(logs, fmt.Sprintf("updated field definition %s", def.ID))
	return updated, logs, nil
}

// DeleteField soft-deletes a definition. It is rejected while another
// session holds the record lock.
func (g *Gateway) DeleteField(ctx context.Context, actor, fieldID string) error {
	state, err := g.locks.RecordLockState(ctx, fieldID)
	if err != nil {
		return err
	}
	if state.Locked && state.Holder != actor {
		return fmt.Errorf("%w: %s", store.ErrRecordLocked, state.Holder)
	}
	return g.inv.SoftDeleteField(ctx, actor, fieldID)
}
