package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barlink-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints. They stay off unless
// DEBUG_ENDPOINTS is set, so production deployments never expose them.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	// Exercises the audit pipeline end to end, broker included.
	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit pipeline check", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Emits a synthetic reconciliation item so the repair queue consumer can
	// be verified without tearing a real dual write.
	router.GET("/debug/reconcile-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.EmitReconciliation(c.Request.Context(), "reconciliation pipeline check",
			map[string]string{"partition": "debug", "row": "debug"}, 0)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
