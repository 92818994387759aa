package trust

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
)

// Handler exposes trust scores over HTTP.
type Handler struct {
	resolver *identity.Resolver
	engine   *Engine
}

// NewHandler creates a new trust handler.
func NewHandler(resolver *identity.Resolver, engine *Engine) *Handler {
	return &Handler{resolver: resolver, engine: engine}
}

// RegisterRoutes sets up trust routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/agents/:ref/trust", h.GetTrust)
}

// GetTrust handles GET /v1/agents/:ref/trust
func (h *Handler) GetTrust(c *gin.Context) {
	ref := c.Param("ref")

	agent, err := h.resolver.Resolve(c.Request.Context(), ref)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, identity.ErrNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, identity.ErrRegistryUnavailable):
			status = http.StatusServiceUnavailable
			code = "registry_unavailable"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	snapshot := h.engine.Compute(c.Request.Context(), agent)
	c.JSON(http.StatusOK, gin.H{
		"agent":     agent.ChainAddress.Hex(),
		"serviceId": agent.ServiceID,
		"trust":     snapshot,
		"threshold": h.engine.Threshold(),
	})
}
