package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatflow/signaling/middleware"
	"chatflow/signaling/models"
	"chatflow/signaling/services"
	"chatflow/signaling/utils"
)

type PresenceHandler struct {
	service *services.PresenceService
	logger  *utils.Logger
}

func NewPresenceHandler(service *services.PresenceService, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		service: service,
		logger:  logger,
	}
}

// Heartbeat handles POST /api/presence/heartbeat. The body is empty; the
// identity comes from the token. Idempotent.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	userID := middleware.CallerID(c)

	if err := h.service.Heartbeat(c.Request.Context(), userID); err != nil {
		h.logger.Error("Failed to record heartbeat", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to record heartbeat",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
	})
}

// Status handles GET /api/presence/status?user_id=... and reports whether
// that user is currently reachable.
func (h *PresenceHandler) Status(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id parameter is required",
		})
		return
	}

	online, err := h.service.IsOnline(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get presence", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get presence",
		})
		return
	}

	response := models.PresenceStatusResponse{
		UserID:   userID,
		IsOnline: online,
	}
	if lastSeen, ok, err := h.service.LastSeen(c.Request.Context(), userID); err == nil && ok {
		response.LastSeen = &lastSeen
	}

	c.JSON(http.StatusOK, response)
}
