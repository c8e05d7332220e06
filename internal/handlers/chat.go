package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barlink-service/internal/coordinator"
	"barlink-service/internal/telemetry"
)

// ChatHandler manages private conversation endpoints.
type ChatHandler struct {
	coord   *coordinator.Coordinator
	emitter *telemetry.AuditEmitter
}

func NewChatHandler(coord *coordinator.Coordinator, emitter *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{coord: coord, emitter: emitter}
}

// SendMessage appends a message to the caller's thread with the recipient.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	msg, err := h.coord.SendMessage(c.Request.Context(), session, req.Recipient, req.Text)
	if err != nil {
		h.emitter.Emit(c.Request.Context(), "WARN", "send message failed: "+err.Error(), requestIDFromContext(c), userIDFromContext(c))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkRead flags the conversation with the counterpart as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req struct {
		Counterpart string `json:"counterpart" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	if err := h.coord.MarkRead(c.Request.Context(), session, req.Counterpart); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// GetThread returns the full thread with a peer in chronological order.
func (h *ChatHandler) GetThread(c *gin.Context) {
	session := sessionFromContext(c)
	messages, err := h.coord.FetchThread(c.Request.Context(), session, c.Param("peer"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ListInbox returns the caller's conversation summaries, newest first.
func (h *ChatHandler) ListInbox(c *gin.Context) {
	session := sessionFromContext(c)
	inbox, err := h.coord.FetchInbox(c.Request.Context(), session)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": inbox})
}
