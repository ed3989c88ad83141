package handlers

import (
	"github.com/gin-gonic/gin"

	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/http/v1/dto"
)

// WorkflowHandler exposes the spending chain.
type WorkflowHandler struct {
	*BaseHandler
	machine *workflow.Machine
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(base *BaseHandler, machine *workflow.Machine) *WorkflowHandler {
	return &WorkflowHandler{BaseHandler: base, machine: machine}
}

// Validate handles POST /validate-workflow
func (h *WorkflowHandler) Validate(c *gin.Context) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	var req dto.ValidateWorkflowRequest
	if !h.BindJSON(c, &req) {
		return
	}
	cmd, err := req.ToCommand(actor)
	if err != nil {
		h.Error(c, err)
		return
	}

	res, err := h.machine.Apply(c.Request.Context(), cmd)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(res))
}

// Create handles POST /records/:stage
func (h *WorkflowHandler) Create(c *gin.Context) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	stage, ok := h.ParamStage(c)
	if !ok {
		return
	}
	var req dto.CreateRecordRequest
	if !h.BindJSON(c, &req) {
		return
	}
	draft, err := req.ToDraft()
	if err != nil {
		h.Error(c, err)
		return
	}

	rec, err := h.machine.Create(c.Request.Context(), stage, draft, actor)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, rec)
}

// List handles GET /records/:stage
func (h *WorkflowHandler) List(c *gin.Context) {
	stage, ok := h.ParamStage(c)
	if !ok {
		return
	}
	var q dto.RecordListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	records, err := h.machine.List(c.Request.Context(), stage, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.BaseHandler.List(c, records, len(records), q.PageRequest)
}

// Get handles GET /records/:stage/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	stage, ok := h.ParamStage(c)
	if !ok {
		return
	}
	recordID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}

	rec, err := h.machine.Get(c.Request.Context(), stage, recordID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rec)
}

// Submit handles POST /records/:stage/:id/submit
func (h *WorkflowHandler) Submit(c *gin.Context) {
	h.lifecycle(c, workflow.ActionSubmit)
}

// Resume handles POST /records/:stage/:id/resume
func (h *WorkflowHandler) Resume(c *gin.Context) {
	h.lifecycle(c, workflow.ActionResume)
}

func (h *WorkflowHandler) lifecycle(c *gin.Context, action workflow.Action) {
	actor, ok := h.Actor(c)
	if !ok {
		return
	}
	stage, ok := h.ParamStage(c)
	if !ok {
		return
	}
	recordID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.CommentRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	res, err := h.machine.Apply(c.Request.Context(), workflow.Command{
		Stage:    stage,
		EntityID: recordID,
		Action:   action,
		Actor:    actor,
		Payload:  workflow.Payload{Comment: req.Comment},
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(res))
}

// RegisterRoutes registers record routes under group.
func (h *WorkflowHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/:stage", h.Create)
	group.GET("/:stage", h.List)
	group.GET("/:stage/:id", h.Get)
	group.POST("/:stage/:id/submit", h.Submit)
	group.POST("/:stage/:id/resume", h.Resume)
}
