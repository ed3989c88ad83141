package handlers

import (
	"github.com/gin-gonic/gin"

	"spendchain/internal/domain/transfer"
	"spendchain/internal/infrastructure/http/v1/dto"
)

// TransferHandler exposes credit transfers.
type TransferHandler struct {
	*BaseHandler
	engine *transfer.Engine
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(base *BaseHandler, engine *transfer.Engine) *TransferHandler {
	return &TransferHandler{BaseHandler: base, engine: engine}
}

// Create handles POST /transfers
func (h *TransferHandler) Create(c *gin.Context) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	var req dto.CreateTransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	r, err := req.ToRequest()
	if err != nil {
		h.Error(c, err)
		return
	}

	t, err := h.engine.Request(c.Request.Context(), r, actor)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, t)
}

// List handles GET /transfers
func (h *TransferHandler) List(c *gin.Context) {
	var q dto.TransferListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	items, err := h.engine.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.BaseHandler.List(c, items, len(items), q.PageRequest)
}

// Get handles GET /transfers/:id
func (h *TransferHandler) Get(c *gin.Context) {
	transferID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	t, err := h.engine.Get(c.Request.Context(), transferID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, t)
}

// Approve handles POST /transfers/:id/approve
func (h *TransferHandler) Approve(c *gin.Context) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	transferID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	t, err := h.engine.Approve(c.Request.Context(), transferID, actor)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, t)
}

// Reject handles POST /transfers/:id/reject
func (h *TransferHandler) Reject(c *gin.Context) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	transferID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.RejectTransferRequest
	if !h.BindJSON(c, &req) {
		return
	}

	t, err := h.engine.Reject(c.Request.Context(), transferID, req.Reason, actor)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, t)
}

// RegisterRoutes registers transfer routes under group.
func (h *TransferHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("/:id/approve", h.Approve)
	group.POST("/:id/reject", h.Reject)
}
