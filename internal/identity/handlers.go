package identity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

// Handler provides HTTP endpoints for agent registration and resolution.
type Handler struct {
	resolver *Resolver
}

// NewHandler creates a new identity handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// RegisterRoutes sets up agent routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/agents", h.RegisterAgent)
	r.GET("/agents/:ref", h.ResolveAgent)
}

// RegisterAgent handles POST /v1/agents
func (h *Handler) RegisterAgent(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "serviceId and name are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ServiceID("serviceId", req.ServiceID),
		validation.Required("name", req.Name),
		validation.MaxLen("name", req.Name, 256),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	record, err := h.resolver.Register(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrServiceIDTaken):
			status = http.StatusConflict
			code = "service_id_taken"
		case errors.Is(err, chain.ErrUpstream), errors.Is(err, chain.ErrTimeout):
			status = http.StatusServiceUnavailable
			code = "ledger_unavailable"
		case errors.Is(err, chain.ErrInvalidKey):
			status = http.StatusBadRequest
			code = "validation_error"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"agent": record})
}

// ResolveAgent handles GET /v1/agents/:ref
func (h *Handler) ResolveAgent(c *gin.Context) {
	ref := c.Param("ref")

	record, err := h.resolver.Resolve(c.Request.Context(), ref)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrRegistryUnavailable):
			status = http.StatusServiceUnavailable
			code = "registry_unavailable"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent": record})
}
