package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"barlink-service/internal/coordinator"
	"barlink-service/internal/telemetry"
)

// SeatHandler exposes seat claims, releases and venue layout editing.
type SeatHandler struct {
	coord   *coordinator.Coordinator
	emitter *telemetry.AuditEmitter
}

func NewSeatHandler(coord *coordinator.Coordinator, emitter *telemetry.AuditEmitter) *SeatHandler {
	return &SeatHandler{coord: coord, emitter: emitter}
}

// ClaimSeat claims a specific seat for the caller.
func (h *SeatHandler) ClaimSeat(c *gin.Context) {
	var req struct {
		BarID  string `json:"bar_id" binding:"required"`
		SeatID string `json:"seat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	res, err := h.coord.ClaimSeat(c.Request.Context(), session, req.BarID, req.SeatID)
	if err != nil {
		h.emitter.Emit(c.Request.Context(), "WARN", "seat claim failed: "+err.Error(), requestIDFromContext(c), userIDFromContext(c))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"seat": res.Seat, "already_owned": res.AlreadyOwned})
}

// ScanSeat claims the seat named by a scanned QR payload.
func (h *SeatHandler) ScanSeat(c *gin.Context) {
	var req struct {
		Payload string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	res, err := h.coord.ScanSeatCode(c.Request.Context(), session, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"seat": res.Seat, "already_owned": res.AlreadyOwned})
}

// ReleaseSeat gives a seat back.
func (h *SeatHandler) ReleaseSeat(c *gin.Context) {
	var req struct {
		BarID  string `json:"bar_id" binding:"required"`
		SeatID string `json:"seat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	if err := h.coord.ReleaseSeat(c.Request.Context(), session, req.BarID, req.SeatID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// SwitchSeat moves the caller to another seat in the same bar.
func (h *SeatHandler) SwitchSeat(c *gin.Context) {
	var req struct {
		BarID  string `json:"bar_id" binding:"required"`
		SeatID string `json:"seat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	res, err := h.coord.SwitchSeat(c.Request.Context(), session, req.BarID, req.SeatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seat": res.Seat, "already_owned": res.AlreadyOwned})
}

// ListSeats returns the bar's seat map.
func (h *SeatHandler) ListSeats(c *gin.Context) {
	seats, err := h.coord.ListSeats(c.Request.Context(), c.Param("bar_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seats": seats})
}

// CreateSeat adds a seat to the layout. Manager only.
func (h *SeatHandler) CreateSeat(c *gin.Context) {
	var req struct {
		SeatID string  `json:"seat_id" binding:"required"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	seat, err := h.coord.CreateSeat(c.Request.Context(), session, c.Param("bar_id"), req.SeatID, req.X, req.Y)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"seat": seat})
}

// MoveSeat repositions a seat on the venue map. Manager only.
func (h *SeatHandler) MoveSeat(c *gin.Context) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := sessionFromContext(c)
	if err := h.coord.MoveSeat(c.Request.Context(), session, c.Param("bar_id"), c.Param("seat_id"), req.X, req.Y); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "moved"})
}

// DeleteSeat removes a seat from the layout. Manager only.
func (h *SeatHandler) DeleteSeat(c *gin.Context) {
	session := sessionFromContext(c)
	if err := h.coord.DeleteSeat(c.Request.Context(), session, c.Param("bar_id"), c.Param("seat_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
