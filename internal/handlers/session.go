package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barlink-service/internal/coordinator"
)

// SessionHandler serves the session-derived views a client needs after
// connecting or reconnecting.
type SessionHandler struct {
	coord *coordinator.Coordinator
}

func NewSessionHandler(coord *coordinator.Coordinator) *SessionHandler {
	return &SessionHandler{coord: coord}
}

// Groups lists the hub groups the caller's session should join.
func (h *SessionHandler) Groups(c *gin.Context) {
	session := sessionFromContext(c)
	c.JSON(http.StatusOK, gin.H{"groups": h.coord.GroupsFor(session)})
}

// Reconcile returns the durable state backing the caller's live views. Clients
// call it after every reconnect to close any delivery gap.
func (h *SessionHandler) Reconcile(c *gin.Context) {
	session := sessionFromContext(c)
	report, err := h.coord.Reconcile(c.Request.Context(), session)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
