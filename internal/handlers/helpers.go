package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"barlink-service/internal/conversations"
	"barlink-service/internal/coordinator"
	"barlink-service/internal/gifts"
	"barlink-service/internal/registry"
	"barlink-service/internal/routing"
	"barlink-service/internal/tablestore"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if id := c.GetString("userID"); id != "" {
		return &id
	}
	return nil
}

// sessionFromContext assembles the caller's session from gateway headers.
// X-Bar-Id is the venue checked into, X-Manager-Of a comma-separated list of
// staffed bars.
func sessionFromContext(c *gin.Context) coordinator.Session {
	session := coordinator.Session{
		UserID: c.GetString("userID"),
		BarID:  c.GetHeader("X-Bar-Id"),
	}
	if raw := c.GetHeader("X-Manager-Of"); raw != "" {
		for _, bar := range strings.Split(raw, ",") {
			if bar = strings.TrimSpace(bar); bar != "" {
				session.ManagerOf = append(session.ManagerOf, bar)
			}
		}
	}
	return session
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrSeatNotFound),
		errors.Is(err, gifts.ErrGiftNotFound),
		errors.Is(err, tablestore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrAlreadyOccupied),
		errors.Is(err, registry.ErrSeatExists),
		errors.Is(err, gifts.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrMalformedPayload),
		errors.Is(err, conversations.ErrEmptyMessage),
		errors.Is(err, gifts.ErrEmptyCart),
		errors.Is(err, routing.ErrInvalidComponent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrWrongVenue):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrUnknownOutcome):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, conversations.ErrPartialWrite):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message stored, inbox update pending reconciliation"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
