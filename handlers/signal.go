package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatflow/signaling/middleware"
	"chatflow/signaling/models"
	"chatflow/signaling/services"
	"chatflow/signaling/utils"
)

type SignalHandler struct {
	mailbox *services.Mailbox
	logger  *utils.Logger
}

func NewSignalHandler(mailbox *services.Mailbox, logger *utils.Logger) *SignalHandler {
	return &SignalHandler{
		mailbox: mailbox,
		logger:  logger,
	}
}

// Send handles POST /api/signal/send. Any authenticated identity may signal
// any recipient; whether a call is wanted is the application's concern, not
// the relay's. The payload is never inspected.
func (h *SignalHandler) Send(c *gin.Context) {
	var req models.SendSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if !req.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown signal kind",
		})
		return
	}

	senderID := middleware.CallerID(c)
	event := h.mailbox.Deposit(req.RecipientID, senderID, req.Kind, req.Payload)

	h.logger.Info("signal deposited",
		"kind", event.Kind,
		"sender", senderID,
		"recipient", req.RecipientID,
	)

	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"id":     event.ID,
	})
}

// Poll handles GET /api/signal/poll. It drains the caller's own mailbox
// (there is no way to read anyone else's) and returns the events in deposit
// order. An empty mailbox yields an empty array, not null.
func (h *SignalHandler) Poll(c *gin.Context) {
	userID := middleware.CallerID(c)

	events := h.mailbox.Drain(userID)

	c.JSON(http.StatusOK, events)
}
