package handlers

import (
	"github.com/gin-gonic/gin"

	"spendchain/internal/domain/audit"
	"spendchain/internal/infrastructure/http/v1/dto"
)

// AuditHandler exposes the audit trail of an entity.
type AuditHandler struct {
	*BaseHandler
	log *audit.Log
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(base *BaseHandler, log *audit.Log) *AuditHandler {
	return &AuditHandler{BaseHandler: base, log: log}
}

// History handles GET /audit/:entity_type/:entity_id
func (h *AuditHandler) History(c *gin.Context) {
	entityID, ok := h.ParamID(c, "entity_id")
	if !ok {
		return
	}
	var page dto.PageRequest
	if !h.BindQuery(c, &page) {
		return
	}
	page.Defaults()

	entries, err := h.log.History(c.Request.Context(), c.Param("entity_type"), entityID, page.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.List(c, entries, len(entries), page)
}
