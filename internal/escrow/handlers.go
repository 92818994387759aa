package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/chain"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/identity"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new escrow handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows/:id", h.GetEscrow)
	r.POST("/escrows/:id/release", h.ReleaseEscrow)
	r.POST("/escrows/:id/refund", h.RefundEscrow)
	r.POST("/escrows/:id/dispute", h.DisputeEscrow)
	r.GET("/agents/:ref/escrows", h.ListEscrows)
}

// signingRequest is the body of release/refund calls.
type signingRequest struct {
	Signing SigningContext `json:"signing"`
}

// disputeRequest is the body of dispute calls.
type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "payer, payee and amount are required",
		})
		return
	}

	record, err := h.manager.Create(c.Request.Context(), req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": record})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	record, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": record})
}

// ReleaseEscrow handles POST /v1/escrows/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	var req signingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "invalid request body",
			})
			return
		}
	}

	record, err := h.manager.Release(c.Request.Context(), c.Param("id"), req.Signing)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": record})
}

// RefundEscrow handles POST /v1/escrows/:id/refund
func (h *Handler) RefundEscrow(c *gin.Context) {
	var req signingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "invalid request body",
			})
			return
		}
	}

	record, err := h.manager.Refund(c.Request.Context(), c.Param("id"), req.Signing)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": record})
}

// DisputeEscrow handles POST /v1/escrows/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	record, err := h.manager.Dispute(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": record})
}

// ListEscrows handles GET /v1/agents/:ref/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
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
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrows": records, "count": len(records)})
}

func respondEscrowError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	var ve *validation.ValidationError
	var ves validation.Errors
	switch {
	case errors.As(err, &ve), errors.As(err, &ves), errors.Is(err, ErrInvalidSigning), errors.Is(err, chain.ErrInvalidKey):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrAlreadyResolved):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, identity.ErrRegistryUnavailable),
		errors.Is(err, chain.ErrUpstream),
		errors.Is(err, chain.ErrTimeout):
		status = http.StatusServiceUnavailable
		code = "ledger_unavailable"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
