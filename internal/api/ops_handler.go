package api

import (
	"net/http"

	"blogcore/internal/cache"
	"blogcore/internal/messaging"
	"blogcore/internal/repository"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// OpsHandler exposes the operational surface of the resilience core: health
// of the backing tiers and outbox delivery state. Business endpoints live in
// the individual services, not here.
type OpsHandler struct {
	db     *gorm.DB
	store  *cache.Store
	sender *messaging.Sender
	outbox repository.OutboxInterface
}

func NewOpsHandler(db *gorm.DB, store *cache.Store, sender *messaging.Sender, outbox repository.OutboxInterface) *OpsHandler {
	return &OpsHandler{
		db:     db,
		store:  store,
		sender: sender,
		outbox: outbox,
	}
}

func (h *OpsHandler) Health(c *gin.Context) {
	status := http.StatusOK
	dbUp := true

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		dbUp = false
		status = http.StatusServiceUnavailable
	}

	// Cache and broker degradation are survivable, so they are reported but
	// do not fail the health check.
	c.JSON(status, gin.H{
		"db":     dbUp,
		"redis":  h.store.Available(),
		"broker": h.sender.BrokerAvailable(),
	})
}

func (h *OpsHandler) OutboxStats(c *gin.Context) {
	ctx := c.Request.Context()

	pending, err := h.outbox.CountPending(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count pending messages"})
		return
	}
	deadLetters, err := h.outbox.CountDeadLetter(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count dead letters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":      pending,
		"dead_letters": deadLetters,
	})
}

func (h *OpsHandler) DeadLetters(c *gin.Context) {
	msgs, err := h.outbox.FindDeadLetters(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": msgs})
}
