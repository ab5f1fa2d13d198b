package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/templates"
)

type CreateTemplateRequest struct {
	ID             string   `json:"id" binding:"required"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequiredFields []string `json:"requiredFields"`
	OptionalFields []string `json:"optionalFields"`
}

type TemplateHandler struct {
	registry *templates.Registry
	log      zerolog.Logger
}

func NewTemplateHandler(registry *templates.Registry, logger zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{
		registry: registry,
		log:      logger,
	}
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list templates")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list templates"})
		return
	}
	if list == nil {
		list = []templates.Template{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, templates.ErrTemplateNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "template not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get template"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid template", Details: err.Error()})
		return
	}

	saved, err := h.registry.Save(c.Request.Context(), templates.Template{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		RequiredFields: req.RequiredFields,
		OptionalFields: req.OptionalFields,
	})
	if errors.Is(err, templates.ErrInvalidTemplate) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid template", Details: err.Error()})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("template", req.ID).Msg("failed to save template")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to save template"})
		return
	}

	c.JSON(http.StatusCreated, saved)
}

func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	err := h.registry.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, templates.ErrBaseTemplate):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "base templates cannot be deleted"})
	case errors.Is(err, templates.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "template not found"})
	case err != nil:
		h.log.Error().Err(err).Str("template", c.Param("id")).Msg("failed to delete template")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete template"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// ValidateData checks a payload against a template without enqueueing it.
func (h *TemplateHandler) ValidateData(c *gin.Context) {
	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body", Details: err.Error()})
		return
	}

	result, err := h.registry.Validate(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to validate", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *TemplateHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/templates", h.ListTemplates)
	r.GET("/templates/:id", h.GetTemplate)
	r.POST("/templates/:id/validate", h.ValidateData)
}

func (h *TemplateHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/templates", h.CreateTemplate)
	r.DELETE("/templates/:id", h.DeleteTemplate)
}
