package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barlink-service/internal/coordinator"
	"barlink-service/internal/gifts"
	"barlink-service/internal/models"
	"barlink-service/internal/telemetry"
)

// GiftHandler exposes the gift purchase and decision endpoints.
type GiftHandler struct {
	coord   *coordinator.Coordinator
	emitter *telemetry.AuditEmitter
}

func NewGiftHandler(coord *coordinator.Coordinator, emitter *telemetry.AuditEmitter) *GiftHandler {
	return &GiftHandler{coord: coord, emitter: emitter}
}

// CreateGift records a gift order for a seat neighbour.
func (h *GiftHandler) CreateGift(c *gin.Context) {
	var req struct {
		BarID        string  `json:"bar_id"`
		Receiver     string  `json:"receiver"`
		ReceiverSeat string  `json:"receiver_seat" binding:"required"`
		SenderSeat   string  `json:"sender_seat"`
		Items        string  `json:"items" binding:"required"`
		Price        float64 `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	gift, err := h.coord.CreateGift(c.Request.Context(), session, gifts.Order{
		BarID:        req.BarID,
		Receiver:     req.Receiver,
		ReceiverSeat: req.ReceiverSeat,
		SenderSeat:   req.SenderSeat,
		Items:        req.Items,
		Price:        req.Price,
	})
	if err != nil {
		h.emitter.Emit(c.Request.Context(), "WARN", "gift create failed: "+err.Error(), requestIDFromContext(c), userIDFromContext(c))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"gift": gift})
}

// SetStatus records the bar's accept/decline decision. Manager only.
func (h *GiftHandler) SetStatus(c *gin.Context) {
	var req struct {
		BarID  string `json:"bar_id" binding:"required"`
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	gift, err := h.coord.SetGiftStatus(c.Request.Context(), session, req.BarID, c.Param("row_key"), models.GiftStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gift": gift})
}

// ListSent returns the caller's gift history.
func (h *GiftHandler) ListSent(c *gin.Context) {
	session := sessionFromContext(c)
	sent, err := h.coord.ListSentGifts(c.Request.Context(), session)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gifts": sent})
}

// ListReceived returns a managed bar's incoming gifts, optionally filtered by
// status. Manager only.
func (h *GiftHandler) ListReceived(c *gin.Context) {
	session := sessionFromContext(c)
	received, err := h.coord.ListReceivedGifts(c.Request.Context(), session,
		c.Query("bar_id"), models.GiftStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gifts": received})
}
