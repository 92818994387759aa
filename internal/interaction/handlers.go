package interaction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

// Handler provides HTTP endpoints for interactions.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new interaction handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up interaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/interactions", h.Initiate)
	r.GET("/interactions/:id", h.GetInteraction)
	r.POST("/interactions/:id/complete", h.Complete)
	r.GET("/agents/:ref/interactions", h.ListInteractions)
}

// Initiate handles POST /v1/interactions
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "from, to and capability are required",
		})
		return
	}

	record, err := h.manager.Initiate(c.Request.Context(), req)
	if err != nil {
		respondInteractionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"interaction": record})
}

// Complete handles POST /v1/interactions/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	record, err := h.manager.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondInteractionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"interaction": record})
}

// GetInteraction handles GET /v1/interactions/:id
func (h *Handler) GetInteraction(c *gin.Context) {
	record, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondInteractionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interaction": record})
}

// ListInteractions handles GET /v1/agents/:ref/interactions
func (h *Handler) ListInteractions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	records, err := h.manager.ListByAgent(c.Request.Context(), c.Param("ref"), limit)
	if err != nil {
		respondInteractionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"interactions": records, "count": len(records)})
}

func respondInteractionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	var ve *validation.ValidationError
	var ves validation.Errors
	switch {
	case errors.Is(err, ErrTrustGateRejected):
		status = http.StatusForbidden
		code = "trust_gate_rejected"
	case errors.As(err, &ve), errors.As(err, &ves):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, identity.ErrRegistryUnavailable):
		status = http.StatusServiceUnavailable
		code = "registry_unavailable"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
