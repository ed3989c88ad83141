package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/http/v1/dto"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the Gin context and aborts the request.
// The JSON body is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Actor returns the authenticated actor, or aborts with 401.
func (h *BaseHandler) Actor(c *gin.Context) (*appctx.UserContext, bool) {
	user := appctx.GetUser(c.Request.Context())
	if user == nil {
		h.Error(c, apperror.NewUnauthorized("authentication required"))
		return nil, false
	}
	return user, true
}

// ParamID parses a UUID path parameter.
func (h *BaseHandler) ParamID(c *gin.Context, name string) (id.ID, bool) {
	raw := c.Param(name)
	parsed, err := id.Parse(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation(name+" must be a UUID").WithDetail(name, raw))
		return id.Nil(), false
	}
	return parsed, true
}

// ParamStage resolves the :stage path parameter.
func (h *BaseHandler) ParamStage(c *gin.Context) (workflow.Stage, bool) {
	stage, err := workflow.ParseStage(c.Param("stage"))
	if err != nil {
		h.Error(c, err)
		return 0, false
	}
	return stage, true
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// List sends a page of items.
func (h *BaseHandler) List(c *gin.Context, items any, count int, page dto.PageRequest) {
	c.JSON(http.StatusOK, dto.ListResponse{
		Items:  items,
		Count:  count,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}
