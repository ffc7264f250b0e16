package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with auth and all core routes mounted
// under /api. tokens maps bearer tokens to actor identities.
func NewRouter(h *Handler, tokens map[string]string) *gin.Engine {
	r := gin.Default()

	// CORS for browser-based editors.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	apiGroup := r.Group("/api", AuthRequired(tokens))
	{
		apiGroup.GET("/fields", h.ListFields)
		apiGroup.POST("/fields", h.CreateField)
		apiGroup.GET("/fields/:field", h.GetField)
		apiGroup.PUT("/fields/:field", h.UpdateField)
		apiGroup.DELETE("/fields/:field", h.DeleteField)
		apiGroup.POST("/fields/:field/lock", h.AcquireRecordLock)
		apiGroup.POST("/fields/:field/renew", h.RenewRecordLock)
		apiGroup.POST("/fields/:field/unlock", h.ReleaseRecordLock)
		apiGroup.GET("/fields/:field/lock", h.RecordLockState)

		apiGroup.GET("/assets", h.ListAssets)
		apiGroup.POST("/assets", h.CreateAsset)
		apiGroup.GET("/assets/:asset", h.GetAsset)
		apiGroup.DELETE("/assets/:asset", h.DeleteAsset)
		apiGroup.GET("/assets/:asset/locks", h.AssetLocks)
		apiGroup.PUT("/assets/:asset/fields/:field", h.UpdateAssetField)
		apiGroup.POST("/assets/:asset/fields/:field/lock", h.AcquireFieldLock)
		apiGroup.POST("/assets/:asset/fields/:field/renew", h.RenewFieldLock)
		apiGroup.POST("/assets/:asset/fields/:field/unlock", h.ReleaseFieldLock)
		apiGroup.GET("/assets/:asset/fields/:field/lock", h.FieldLockState)

		apiGroup.POST("/validate", h.Validate)
		apiGroup.GET("/audit", h.ListAudit)
	}

	return r
}
