// Package api exposes the locking and mutation core over HTTP. Handlers are
// thin: identity comes from the auth middleware, writes go through the
// gateway, lock verbs go straight to the lock store, and every mutating
// response carries its human-readable log trail.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/assetgrid-dev/assetgrid-core/internal/gateway"
	"github.com/assetgrid-dev/assetgrid-core/internal/store"
	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
)

// Reads the handlers need beside the gateway.
type Reader interface {
	GetAsset(ctx context.Context, id string) (store.AssetRecord, error)
	ListAssets(ctx context.Context) ([]store.AssetRecord, error)
	GetField(ctx context.Context, id string) (schema.FieldDefinition, error)
	ListFields(ctx context.Context) ([]schema.FieldDefinition, error)
	ListAudit(ctx context.Context, assetID string, limit int) ([]store.AuditEntry, error)
	AssetLockStates(ctx context.Context, assetID string) (map[string]store.LockState, error)
}

type Handler struct {
	Gateway *gateway.Gateway
	Reader  Reader
	Locks   store.LockStore
	Logger  *log.Logger
}

// --- Assets ---

func (h *Handler) ListAssets(c *gin.Context) {
	assets, err := h.Reader.ListAssets(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

func (h *Handler) GetAsset(c *gin.Context) {
	rec, err := h.Reader.GetAsset(c.Request.Context(), c.Param("asset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) CreateAsset(c *gin.Context) {
	var input struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	rec, failures, err := h.Gateway.CreateAsset(c.Request.Context(), actor(c), input.Metadata)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(failures) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "errors": failures})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "asset": rec})
}

func (h *Handler) DeleteAsset(c *gin.Context) {
	if err := h.Gateway.DeleteAsset(c.Request.Context(), actor(c), c.Param("asset")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) UpdateAssetField(c *gin.Context) {
	var input struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	assetID, fieldID := c.Param("asset"), c.Param("field")
	out, err := h.Gateway.UpdateAssetField(c.Request.Context(), actor(c), assetID, fieldID, input.Value)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out.ValidationMessage != "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"errors":  map[string]string{fieldID: out.ValidationMessage},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "log_messages": out.LogMessages})
}

func (h *Handler) AssetLocks(c *gin.Context) {
	states, err := h.Reader.AssetLockStates(c.Request.Context(), c.Param("asset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// --- Field definitions ---

func (h *Handler) ListFields(c *gin.Context) {
	defs, err := h.Reader.ListFields(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (h *Handler) GetField(c *gin.Context) {
	def, err := h.Reader.GetField(c.Request.Context(), c.Param("field"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *Handler) CreateField(c *gin.Context) {
	var def schema.FieldDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	created, err := h.Gateway.CreateField(c.Request.Context(), actor(c), def)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "field_id": created.ID, "field": created})
}

func (h *Handler) UpdateField(c *gin.Context) {
	var def schema.FieldDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	def.ID = c.Param("field")

	updated, logs, err := h.Gateway.UpdateField(c.Request.Context(), actor(c), def)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "field": updated, "log_messages": logs})
}

func (h *Handler) DeleteField(c *gin.Context) {
	if err := h.Gateway.DeleteField(c.Request.Context(), actor(c), c.Param("field")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Locks ---

type lockOp func(ctx context.Context) (store.LockResult, error)

func (h *Handler) lockVerb(c *gin.Context, op lockOp) {
	res, err := op(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) AcquireFieldLock(c *gin.Context) {
	assetID, fieldID, holder := c.Param("asset"), c.Param("field"), actor(c)
	h.lockVerb(c, func(ctx context.Context) (store.LockResult, error) {
		return h.Locks.AcquireFieldLock(ctx, assetID, fieldID, holder)
	})
}

func (h *Handler) RenewFieldLock(c *gin.Context) {
	assetID, fieldID, holder := c.Param("asset"), c.Param("field"), actor(c)
	h.lockVerb(c, func(ctx context.Context) (store.LockResult, error) {
		return h.Locks.RenewFieldLock(ctx, assetID, fieldID, holder)
	})
}

func (h *Handler) ReleaseFieldLock(c *gin.Context) {
	assetID, fieldID, holder := c.Param("asset"), c.Param("field"), actor(c)
	h.lockVerb(c, func(ctx context.Context) (store.LockResult, error) {
		return h.Locks.ReleaseFieldLock(ctx, assetID, fieldID, holder)
	})
}

func (h *Handler) AcquireRecordLock(c *gin.Context) {
	fieldID, holder := c.Param("field"), actor(c)
	h.lockVerb(c, func(ctx context.Context) (store.LockResult, error) {
		return h.Locks.AcquireRecordLock(ctx, fieldID, holder)
	})
}

func (h *Handler) RenewRecordLock(c *gin.Context) {
	fieldID, holder := c.Param("field"), actor(c)
	h.lockVerb(c, func(ctx context.Context) (store.LockResult, error) {
		return h.Locks.RenewRecordLock(ctx, fieldID, holder)
	})
}

func (h *Handler) ReleaseRecordLock(c *gin.Context) {
	fieldID, holder := c.Param("field"), actor(c)
	h.lockVerb(c, func(ctx context.Context) (store.LockResult, error) {
		return h.Locks.ReleaseRecordLock(ctx, fieldID, holder)
	})
}

func (h *Handler) FieldLockState(c *gin.Context) {
	state, err := h.Locks.FieldLockState(c.Request.Context(), c.Param("asset"), c.Param("field"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) RecordLockState(c *gin.Context) {
	state, err := h.Locks.RecordLockState(c.Request.Context(), c.Param("field"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// --- Validation and audit ---

// Validate runs the same compiled validators the gateway enforces, so a UI
// can show authoritative messages before attempting a commit.
func (h *Handler) Validate(c *gin.Context) {
	var input struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	failures, err := h.Gateway.ValidateMetadata(c.Request.Context(), input.Metadata)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": failures})
}

func (h *Handler) ListAudit(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := h.Reader.ListAudit(c.Request.Context(), c.Query("asset"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// fail maps domain errors onto HTTP statuses. Anything unrecognized is a
// broken-schema or infrastructure problem and surfaces as a 500 so clients
// can tell "fix your input" from "something is broken".
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrAssetNotFound), errors.Is(err, store.ErrFieldNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, gateway.ErrLockConflict),
		errors.Is(err, store.ErrRecordLocked),
		errors.Is(err, store.ErrLockHeld),
		errors.Is(err, store.ErrMagicKindTaken):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, store.ErrFieldPersistent):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		h.Logger.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}
