package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatflow/signaling/models"
	"chatflow/signaling/utils"
)

// UserFinder is the slice of the external directory this service consumes.
type UserFinder interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type UsersHandler struct {
	directory UserFinder
	logger    *utils.Logger
}

func NewUsersHandler(directory UserFinder, logger *utils.Logger) *UsersHandler {
	return &UsersHandler{
		directory: directory,
		logger:    logger,
	}
}

// Batch handles POST /api/users/batch. Clients use it to resolve the sender
// of an incoming offer to a displayable profile.
func (h *UsersHandler) Batch(c *gin.Context) {
	var req models.BatchUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	users, err := h.directory.FindByIDs(c.Request.Context(), req.UserIDs)
	if err != nil {
		h.logger.Error("Failed to look up users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up users",
		})
		return
	}

	c.JSON(http.StatusOK, users)
}
