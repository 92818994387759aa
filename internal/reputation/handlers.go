package reputation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

// Handler exposes feedback submission over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up feedback routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/feedback", h.SubmitFeedback)
}

// SubmitFeedback handles POST /v1/feedback
func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "from and to are required",
		})
		return
	}

	res, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		var ve *validation.ValidationError
		switch {
		case errors.Is(err, ErrSelfFeedback):
			status = http.StatusBadRequest
			code = "self_feedback_forbidden"
		case errors.As(err, &ve):
			status = http.StatusBadRequest
			code = "validation_error"
		case errors.Is(err, identity.ErrNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, identity.ErrRegistryUnavailable),
			errors.Is(err, chain.ErrUpstream),
			errors.Is(err, chain.ErrTimeout):
			status = http.StatusServiceUnavailable
			code = "ledger_unavailable"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tx": res.TxHash})
}
