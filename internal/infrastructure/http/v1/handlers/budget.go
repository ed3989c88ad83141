package handlers

import (
	"github.com/gin-gonic/gin"

	"spendchain/internal/core/apperror"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/http/v1/dto"
)

// BudgetHandler exposes budget lines and their availability.
type BudgetHandler struct {
	*BaseHandler
	ledger *ledger.Service
}

// NewBudgetHandler creates a new budget handler.
func NewBudgetHandler(base *BaseHandler, ledger *ledger.Service) *BudgetHandler {
	return &BudgetHandler{BaseHandler: base, ledger: ledger}
}

// Create handles POST /budget-lines. Restricted to administrators and the DAF.
func (h *BudgetHandler) Create(c *gin.Context) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	if !actor.IsAdmin && !actor.HasRole(workflow.RoleDAF) {
		h.Error(c, apperror.NewForbidden("only administrators and the DAF may open budget lines"))
		return
	}
	var req dto.CreateBudgetLineRequest
	if !h.BindJSON(c, &req) {
		return
	}

	line := req.ToLine()
	if err := h.ledger.CreateLine(c.Request.Context(), line); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, line)
}

// List handles GET /budget-lines?exercice=
func (h *BudgetHandler) List(c *gin.Context) {
	var q dto.ExerciceQuery
	if !h.BindQuery(c, &q) {
		return
	}
	lines, err := h.ledger.Lines(c.Request.Context(), q.Exercice)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.BaseHandler.List(c, lines, len(lines), dto.PageRequest{Limit: len(lines)})
}

// Availability handles GET /budget-lines/:id/availability?exercice=
func (h *BudgetHandler) Availability(c *gin.Context) {
	lineID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var q dto.ExerciceQuery
	if !h.BindQuery(c, &q) {
		return
	}

	a, err := h.ledger.Availability(c.Request.Context(), lineID, q.Exercice)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, a)
}

// RegisterRoutes registers budget line routes under group.
func (h *BudgetHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id/availability", h.Availability)
}
