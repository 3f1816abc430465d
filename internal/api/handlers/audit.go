package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ird0/sftpcert/internal/audit"
)

// AuditQuerier reads persisted audit events
type AuditQuerier interface {
	Query(username, event string, limit int) ([]*audit.Event, error)
}

// AuditHandler serves the audit trail query
type AuditHandler struct {
	store AuditQuerier
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(store AuditQuerier) *AuditHandler {
	return &AuditHandler{store: store}
}

// ListEvents handles GET /v1/audit
func (h *AuditHandler) ListEvents(c *gin.Context) {
	username := c.Query("username")
	event := c.Query("event")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.Query(username, event, limit)
	if err != nil {
		log.Printf("[api] audit query failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to query audit events")
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}

	RespondSuccess(c, gin.H{
		"events": events,
		"count":  len(events),
	})
}
