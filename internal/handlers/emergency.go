package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barlink-service/internal/coordinator"
	"barlink-service/internal/telemetry"
)

// EmergencyHandler lets a guest raise the on-duty managers.
type EmergencyHandler struct {
	coord   *coordinator.Coordinator
	emitter *telemetry.AuditEmitter
}

func NewEmergencyHandler(coord *coordinator.Coordinator, emitter *telemetry.AuditEmitter) *EmergencyHandler {
	return &EmergencyHandler{coord: coord, emitter: emitter}
}

// Alert publishes an emergency notice to the managers group. Every alert is
// also audited.
func (h *EmergencyHandler) Alert(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	if err := h.coord.EmergencyAlert(c.Request.Context(), session, req.Text); err != nil {
		respondError(c, err)
		return
	}
	h.emitter.Emit(c.Request.Context(), "WARN", "emergency alert from "+session.UserID+" at "+session.BarID, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, gin.H{"status": "alerted"})
}
